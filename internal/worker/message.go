package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// MessageSkipWaiting 要求等待中的代际立即激活。
const MessageSkipWaiting = "SKIP_WAITING"

// Message 是页面发给 worker 的控制消息。
type Message struct {
	Type string `json:"type"`
}

// ParseMessage 解析控制消息。
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}

// HandleMessage 处理控制消息，返回消息是否产生了效果。
// 未知类型、没有等待代际或安装尚未结束时的 SKIP_WAITING 都只记录日志，不会阻塞。
func (c *Controller) HandleMessage(ctx context.Context, msg Message) (bool, error) {
	fields := c.fields("message")
	fields["type"] = msg.Type
	switch msg.Type {
	case MessageSkipWaiting:
		err := c.SkipWaiting(ctx)
		if errors.Is(err, ErrNothingWaiting) {
			c.logger.WithFields(fields).Debug("skip_waiting_without_waiting_generation")
			return false, nil
		}
		if errors.Is(err, ErrUpdateInProgress) {
			c.logger.WithFields(fields).Info("skip_waiting_during_update")
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	default:
		c.logger.WithFields(fields).Debug("message_ignored")
		return false, nil
	}
}
