package version

import "fmt"

// Version/Commit/CacheGeneration 可在构建时通过 -ldflags 注入，默认使用开发占位符。
//
// CacheGeneration 是缓存代际标识：每次发版提升该值，新代际安装后会清理旧的
// precache/runtime 缓存。例如：
//
//	go build -ldflags "-X github.com/mireapp/offline-proxy/internal/version.CacheGeneration=v2"
var (
	Version         = "0.1.0"
	Commit          = "dev"
	CacheGeneration = "v1"
)

// Full 返回便于 CLI 打印的完整版本信息。
func Full() string {
	return fmt.Sprintf("offline-proxy %s (%s, cache %s)", Version, Commit, CacheGeneration)
}
