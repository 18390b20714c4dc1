package membership

import (
	"context"
	"sync"
	"time"

	"github.com/jjermany/Plex-Donate-sub002/utils"
)

// 重复投递判定窗口：同一载荷摘要十分钟内只处理一次
const dedupWindow = 10 * time.Minute

// WebhookQueue webhook 事件队列。单 worker 顺序消费，
// 同一订阅的事件天然串行，配合事件时钟保证乱序安全。
type WebhookQueue struct {
	svc          *Service
	jobs         chan *WebhookEvent
	isRunning    bool
	stopChan     chan bool
	completeChan chan bool

	dedupMu sync.Mutex
	recent  map[string]time.Time
}

// NewWebhookQueue 创建队列
func NewWebhookQueue(svc *Service) *WebhookQueue {
	return &WebhookQueue{
		svc:          svc,
		jobs:         make(chan *WebhookEvent, 64),
		stopChan:     make(chan bool),
		completeChan: make(chan bool),
		recent:       make(map[string]time.Time),
	}
}

// Start 启动 webhook 处理器
func (q *WebhookQueue) Start() {
	if q.isRunning {
		utils.LogInfo("webhook 处理器已在运行中")
		return
	}

	q.isRunning = true
	utils.LogInfo("webhook 处理器已启动")

	go func() {
		for {
			select {
			case evt := <-q.jobs:
				q.svc.ProcessWebhook(context.Background(), evt)
			case <-q.stopChan:
				utils.LogInfo("webhook 处理器已停止")
				q.isRunning = false
				q.completeChan <- true
				return
			}
		}
	}()
}

// Stop 停止 webhook 处理器
func (q *WebhookQueue) Stop() {
	if !q.isRunning {
		return
	}

	q.stopChan <- true
	<-q.completeChan
}

// IsRunning 检查处理器是否正在运行
func (q *WebhookQueue) IsRunning() bool {
	return q.isRunning
}

// Enqueue 投递一个事件。重复载荷（PayPal 偶发重发）直接丢弃。
// 队列满时阻塞等待空位：事件只能从唯一 worker 流出，
// 在别的 goroutine 里内联处理会打乱同一订阅的事件顺序。
func (q *WebhookQueue) Enqueue(evt *WebhookEvent) {
	if q.isDuplicate(evt) {
		utils.LogInfo("收到重复的 webhook 载荷，已跳过: " + evt.Type)
		return
	}
	q.jobs <- evt
}

// isDuplicate 按载荷摘要做短窗口去重
func (q *WebhookQueue) isDuplicate(evt *WebhookEvent) bool {
	digest := utils.PayloadDigest(evt.Raw)
	now := time.Now()

	q.dedupMu.Lock()
	defer q.dedupMu.Unlock()

	for key, seen := range q.recent {
		if now.Sub(seen) > dedupWindow {
			delete(q.recent, key)
		}
	}
	if seen, ok := q.recent[digest]; ok && now.Sub(seen) <= dedupWindow {
		return true
	}
	q.recent[digest] = now
	return false
}
