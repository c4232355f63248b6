package utils

const (
	fnvOffset32 = uint32(2166136261)
	fnvPrime32  = uint32(16777619)
)

// FNVHash вычисляет FNV-1a hash строки без аллокаций
// (в отличие от fnv.New32a() не создаёт объект на куче)
func FNVHash(s string) uint32 {
	h := fnvOffset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime32
	}
	return h
}

// ShardIndex возвращает номер шарда для ключа
func ShardIndex(key string, shards int) int {
	if shards <= 1 {
		return 0
	}
	return int(FNVHash(key) % uint32(shards))
}
