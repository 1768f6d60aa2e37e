package ipc

import (
	"cloven/internal/calc"
)

// MessageType tags every line on the wire.
type MessageType string

const (
	TypeHello   MessageType = "hello"
	TypeChunk   MessageType = "chunk"
	TypeStop    MessageType = "stop"
	TypeReady   MessageType = "ready"
	TypeResult  MessageType = "result"
	TypeFailure MessageType = "failure"
)

// Hello is the spawn spec copied into a worker when it starts.
type Hello struct {
	Worker   int         `json:"worker"`
	Stage    string      `json:"stage"`
	Kind     calc.Kind   `json:"kind"`
	Variant  string      `json:"variant"`
	Params   calc.Params `json:"params"`
	Niceness int         `json:"niceness"`
}

// Chunk is one unit of work: an ordered run of keys.
type Chunk struct {
	ID      uint64   `json:"id"`
	Keys    []string `json:"keys"`
	Attempt int      `json:"attempt"`
}

// Ready is sent once the worker's calculator is initialized.
type Ready struct {
	PID int `json:"pid"`
}

// Item pairs one key with its computed result.
type Item struct {
	Key    string      `json:"key"`
	Result calc.Result `json:"result"`
}

// Result carries every item of a completed chunk.
type Result struct {
	ChunkID   uint64 `json:"chunk_id"`
	Items     []Item `json:"items"`
	ElapsedNS int64  `json:"elapsed_ns"`
}

// Failure reports the calculation error that is about to end the worker.
type Failure struct {
	ChunkID uint64 `json:"chunk_id"`
	Key     string `json:"key"`
	Error   string `json:"error"`
}

// Message is the line envelope; exactly one payload matches Type.
type Message struct {
	Type    MessageType `json:"type"`
	Hello   *Hello      `json:"hello,omitempty"`
	Chunk   *Chunk      `json:"chunk,omitempty"`
	Ready   *Ready      `json:"ready,omitempty"`
	Result  *Result     `json:"result,omitempty"`
	Failure *Failure    `json:"failure,omitempty"`
}
