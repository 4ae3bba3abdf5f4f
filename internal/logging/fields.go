package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 scope/domain/策略/来源字段，供代理请求日志复用。
// cache_hit 由来源推导，便于与旧的命中率看板对齐。
func RequestFields(scope, domain, authMode, strategy, source string) logrus.Fields {
	return logrus.Fields{
		"scope":     scope,
		"domain":    domain,
		"auth_mode": authMode,
		"strategy":  strategy,
		"source":    source,
		"cache_hit": source == "cache",
	}
}

// LifecycleFields 描述代际生命周期事件。
func LifecycleFields(action, scope, cacheVersion string) logrus.Fields {
	return logrus.Fields{
		"action":        action,
		"scope":         scope,
		"cache_version": cacheVersion,
	}
}
