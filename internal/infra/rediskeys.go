package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных релея в общем Redis
	RedisNamespace = "corsrelay"
)

// Логические ключи персистентного хранилища. Бэкенд сам решает, как их разместить.
const (
	// KVKeyRules: вся коллекция PermissionRecord одним JSON-массивом.
	KVKeyRules = "rules"
	// KVKeyRuleID: последний выданный id правила принуждения.
	KVKeyRuleID = "ruleId"
)

// RedisKey добавляет пространство имен к логическому ключу.
func RedisKey(key string) string {
	return RedisNamespace + ":" + key
}

// ChannelRulesChanged: pub/sub канал изменений доступа между инстансами.
const ChannelRulesChanged = "rules:changed"
