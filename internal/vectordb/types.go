package vectordb

import "time"

// Config controls the vector index client
type Config struct {
	Host       string
	Port       int
	Collection string
	Timeout    time.Duration
	Dimensions int
}

// ChunkRef identifies a chunk inside a document
type ChunkRef struct {
	DocumentID string `json:"document_id"`
	Ordinal    int    `json:"chunk_ordinal"`
}

// ChunkPoint is one vector plus its metadata sidecar
type ChunkPoint struct {
	Ref          ChunkRef
	Vector       []float32
	Text         string
	CharStart    int
	CharEnd      int
	ContentHash  string
	ModelVersion string
}

// ScoredChunk is a search hit with its similarity mapped to [0,1]
type ScoredChunk struct {
	Ref       ChunkRef
	Text      string
	CharStart int
	CharEnd   int
	Score     float64
}
