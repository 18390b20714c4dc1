package membership

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjermany/Plex-Donate-sub002/utils"
)

func TestWebhookQueueDedup(t *testing.T) {
	q := NewWebhookQueue(nil)

	evt := &WebhookEvent{Type: EventPaymentSaleCompleted, Raw: json.RawMessage(`{"id":"WH-1"}`)}
	other := &WebhookEvent{Type: EventPaymentSaleCompleted, Raw: json.RawMessage(`{"id":"WH-2"}`)}

	assert.False(t, q.isDuplicate(evt), "首次出现的载荷不是重复")
	assert.True(t, q.isDuplicate(evt), "窗口内相同载荷应判重")
	assert.False(t, q.isDuplicate(other), "不同载荷互不影响")
}

func TestWebhookQueueDedupWindowExpires(t *testing.T) {
	q := NewWebhookQueue(nil)
	evt := &WebhookEvent{Type: EventSubscriptionActivated, Raw: json.RawMessage(`{"id":"WH-3"}`)}

	assert.False(t, q.isDuplicate(evt))

	// 把记录时间拨到窗口之外，过期记录应被清理并重新接受
	digest := utils.PayloadDigest(evt.Raw)
	q.dedupMu.Lock()
	q.recent[digest] = time.Now().Add(-dedupWindow - time.Minute)
	q.dedupMu.Unlock()

	assert.False(t, q.isDuplicate(evt), "窗口外的重复载荷应重新接受")
}

// 事件只能经由队列流向唯一 worker，投递顺序即消费顺序
func TestWebhookQueueEnqueuePreservesOrder(t *testing.T) {
	q := NewWebhookQueue(nil)

	first := &WebhookEvent{Type: EventSubscriptionActivated, Raw: json.RawMessage(`{"id":"WH-A"}`)}
	second := &WebhookEvent{Type: EventSubscriptionCancelled, Raw: json.RawMessage(`{"id":"WH-B"}`)}

	q.Enqueue(first)
	q.Enqueue(second)

	require.Len(t, q.jobs, 2)
	assert.Same(t, first, <-q.jobs)
	assert.Same(t, second, <-q.jobs)
}
