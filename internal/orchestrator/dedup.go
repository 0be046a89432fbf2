package orchestrator

import (
	"encoding/json"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// RequestDeduplicator 把并发的同一请求合并为一次真实调用。
// 同一 (类型, 用户, 参数哈希) 的并发调用者共享同一结果；调用结束后键即被释放，
// 后续相同的请求会发起新的调用。
type RequestDeduplicator struct {
	group singleflight.Group
}

// NewRequestDeduplicator 创建去重器。
func NewRequestDeduplicator() *RequestDeduplicator {
	return &RequestDeduplicator{}
}

// GetOrCreate 返回进行中的同键调用结果，或执行 factory 发起新调用。
// shared 表示本次结果是否被多个调用者共享。
func (d *RequestDeduplicator) GetOrCreate(
	requestType string,
	userID string,
	params map[string]interface{},
	factory func() (map[string]interface{}, error),
) (map[string]interface{}, bool, error) {
	key := dedupKey(requestType, userID, params)

	value, err, shared := d.group.Do(key, func() (interface{}, error) {
		return factory()
	})
	if err != nil {
		return nil, shared, err
	}

	result, ok := value.(map[string]interface{})
	if !ok {
		return nil, shared, fmt.Errorf("去重调用返回了意料之外的类型 %T", value)
	}
	return result, shared, nil
}

func dedupKey(requestType, userID string, params map[string]interface{}) string {
	payload, err := json.Marshal(params)
	if err != nil {
		payload = []byte{}
	}
	hash := hashHex(payload)
	if len(hash) > 8 {
		hash = hash[:8]
	}
	return fmt.Sprintf("%s:%s:%s", requestType, userID, hash)
}
