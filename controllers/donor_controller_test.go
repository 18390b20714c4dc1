package controllers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/jjermany/Plex-Donate-sub002/models"
	"github.com/jjermany/Plex-Donate-sub002/repository"
)

func newDonorTestController(t *testing.T) (*DonorController, *repository.Repository) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Donor{}, &models.Invite{}, &models.Event{}))

	repo := repository.New(db)
	return NewDonorController(repo, nil), repo
}

// 非 active 会员不允许后台签发邀请，门户根本不该被触达
func TestIssueInviteRejectsInactiveDonor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dc, repo := newDonorTestController(t)

	donor := &models.Donor{Email: "pending@example.com", Status: models.DonorStatusPending}
	require.NoError(t, repo.CreateDonor(donor))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: fmt.Sprintf("%d", donor.ID)}}

	dc.IssueInvite(c)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "subscription inactive")
}

func TestIssueInviteUnknownDonorIs404(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dc, _ := newDonorTestController(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: "9999"}}

	dc.IssueInvite(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
