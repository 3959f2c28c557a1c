package uuid

import gonanoid "github.com/matoous/go-nanoid"

// backupAlphabet keeps ids safe inside kv keys and file names
const backupAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Generator UUID generator interface
type Generator interface {
	Generate() (string, error)
}

// NanoIDGenerator UUID implementation using NanoID
type NanoIDGenerator struct {
	Length int
}

var _ Generator = &NanoIDGenerator{}

// NewNanoIDGenerator create a new `NanoIDGenerator` instance
func NewNanoIDGenerator(length int) *NanoIDGenerator {
	if length < 1 {
		panic("length must be larger than 1")
	}
	return &NanoIDGenerator{Length: length}
}

// Generate generate UUID
func (ns *NanoIDGenerator) Generate() (string, error) {
	return gonanoid.Generate(backupAlphabet, ns.Length)
}
