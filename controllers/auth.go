package controllers

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/jjermany/Plex-Donate-sub002/models"
)

type AuthController struct {
	DB *gorm.DB
}

func NewAuthController(db *gorm.DB) *AuthController {
	return &AuthController{DB: db}
}

// LoginRequest represents login request body
type LoginRequest struct {
	Username string `json:"username" binding:"required" example:"admin"`
	Password string `json:"password" binding:"required" example:"password123"`
}

// LoginResponse 登录响应
type LoginResponse struct {
	Token   string `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
	Message string `json:"message" example:"登录成功"`
	Role    string `json:"role" example:"admin"`
}

// Login godoc
// @Summary      后台登录
// @Description  后台用户登录并获取token
// @Tags         认证
// @Accept       json
// @Produce      json
// @Param        login body LoginRequest true "登录信息"
// @Success      200  {object}  LoginResponse
// @Failure      400  {object}  Response
// @Failure      401  {object}  Response
// @Router       /login [post]
func (ac *AuthController) Login(c *gin.Context) {
	var loginUser LoginRequest
	if err := c.ShouldBindJSON(&loginUser); err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "请求数据格式不正确"})
		return
	}

	if loginUser.Username == "" || loginUser.Password == "" {
		c.JSON(http.StatusBadRequest, Response{Error: "用户名和密码不能为空"})
		return
	}

	var user models.User
	if err := ac.DB.Where("username = ?", loginUser.Username).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, Response{Error: "用户名或密码错误"})
		return
	}

	if err := user.ComparePassword(loginUser.Password); err != nil {
		c.JSON(http.StatusUnauthorized, Response{Error: "用户名或密码错误"})
		return
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": user.ID,
		"role":    user.Role,
		"exp":     time.Now().Add(time.Hour * 24).Unix(),
	})

	tokenString, err := token.SignedString([]byte(os.Getenv("JWT_SECRET")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Error: "生成令牌失败"})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:   tokenString,
		Message: "登录成功",
		Role:    user.Role,
	})
}

// GetUserInfo godoc
// @Summary      获取当前用户信息
// @Description  使用token获取当前登录用户的详细信息
// @Tags         认证
// @Accept       json
// @Produce      json
// @Security     Bearer
// @Success      200  {object}  Response
// @Failure      401  {object}  Response
// @Router       /user/info [get]
func (ac *AuthController) GetUserInfo(c *gin.Context) {
	userId, _ := c.Get("user_id")
	var user models.User
	if err := ac.DB.First(&user, userId).Error; err != nil {
		c.JSON(http.StatusUnauthorized, Response{Error: "获取用户信息失败"})
		return
	}

	c.JSON(http.StatusOK, Response{
		Data: gin.H{
			"id":         user.ID,
			"username":   user.Username,
			"email":      user.Email,
			"role":       user.Role,
			"created_at": user.CreatedAt,
			"updated_at": user.UpdatedAt,
		},
	})
}
