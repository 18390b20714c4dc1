package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	logFile    *os.File
	logger     *log.Logger
	mu         sync.Mutex
	clients    = make(map[*websocket.Conn]bool)
	clientsMux sync.Mutex
)

const (
	logDir      = "logs"
	logFileName = "app.log"
	// 日志文件超过 10MB 时轮转
	maxLogSize = 10 * 1024 * 1024
)

// InitLogger 初始化日志系统：同时写入文件和控制台
func InitLogger() error {
	mu.Lock()
	defer mu.Unlock()

	if logger != nil {
		return nil
	}
	if err := openLogFile(); err != nil {
		return err
	}

	// 启动日志轮转检查
	go checkLogRotation()
	return nil
}

// openLogFile 打开日志文件并重建 logger，调用方须持有 mu
func openLogFile() error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}
	file, err := os.OpenFile(filepath.Join(logDir, logFileName),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	logFile = file
	logger = log.New(io.MultiWriter(os.Stdout, file), "", 0)
	return nil
}

// logAt 按级别记录一条日志并广播给在线的后台客户端
func logAt(level, message string) {
	if logger == nil {
		if err := InitLogger(); err != nil {
			log.Printf("[%s] %s", level, message)
			return
		}
	}
	line := fmt.Sprintf("[%s] [%s] %s",
		time.Now().Format("2006-01-02 15:04:05"), level, message)
	logger.Println(line)
	BroadcastLog(line)
}

// LogInfo 记录信息日志
func LogInfo(message string) {
	logAt("INFO", message)
}

// LogWarn 记录警告日志
func LogWarn(message string) {
	logAt("WARN", message)
}

// LogError 记录错误信息
func LogError(message string, err error) {
	if err != nil {
		message += fmt.Sprintf(": %v", err)
	}
	logAt("ERROR", message)
}

// checkLogRotation 每小时检查一次是否需要轮转
func checkLogRotation() {
	for {
		time.Sleep(time.Hour)
		rotateIfNeeded()
	}
}

func rotateIfNeeded() {
	mu.Lock()
	defer mu.Unlock()

	if logFile == nil {
		return
	}
	info, err := logFile.Stat()
	if err != nil || info.Size() <= maxLogSize {
		return
	}

	logFile.Close()
	oldPath := filepath.Join(logDir, logFileName)
	newPath := filepath.Join(logDir, fmt.Sprintf("app.%s.log",
		time.Now().Format("20060102150405")))
	os.Rename(oldPath, newPath)

	if err := openLogFile(); err != nil {
		log.Printf("日志轮转后重新打开文件失败: %v", err)
	}
}

// BroadcastLog 向所有连接的WebSocket客户端广播日志
func BroadcastLog(message string) {
	clientsMux.Lock()
	defer clientsMux.Unlock()

	for client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
			client.Close()
			delete(clients, client)
		}
	}
}

// AddClient 添加新的WebSocket客户端
func AddClient(conn *websocket.Conn) {
	clientsMux.Lock()
	clients[conn] = true
	clientsMux.Unlock()
}

// RemoveClient 移除WebSocket客户端
func RemoveClient(conn *websocket.Conn) {
	clientsMux.Lock()
	delete(clients, conn)
	clientsMux.Unlock()
}
