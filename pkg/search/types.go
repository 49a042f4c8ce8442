package search

import "time"

type Config struct {
	IndexPath    string // 为空时使用内存索引
	QueryTimeout time.Duration
	BatchSize    int
	MaxHits      int // Within 每页读取的命中数
}

// Doc 索引中的单个地理文档
type Doc struct {
	ID           string
	Type         string
	Latitude     float64
	Longitude    float64
	Capabilities []string
}

type Hit struct {
	ID    string
	Score float64
}
