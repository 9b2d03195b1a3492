package generator

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Generator is an interface that defines a method to generate a new value of type T.
// This can be used to generate unique identifiers, lazily iterate, etc.
type Generator[T any] interface {
	Next() (T, error)
}

// UUIDV4Generator is a generator that produces UUIDv4 strings.
// It implements the Generator interface.
type UUIDV4Generator struct{}

func (g *UUIDV4Generator) Next() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

var _ Generator[string] = &UUIDV4Generator{}

// SuffixGenerator yields Base, then Base0, Base1 and so on. It never fails.
type SuffixGenerator struct {
	Base string
	next int
}

func (g *SuffixGenerator) Next() (string, error) {
	n := g.next
	g.next++
	if n == 0 {
		return g.Base, nil
	}
	return g.Base + strconv.Itoa(n-1), nil
}

var _ Generator[string] = &SuffixGenerator{}

// FirstUnused returns the first value from gen that taken rejects. It gives
// up after limit attempts.
func FirstUnused(gen Generator[string], taken func(string) bool, limit int) (string, error) {
	for range limit {
		v, err := gen.Next()
		if err != nil {
			return "", err
		}
		if !taken(v) {
			return v, nil
		}
	}
	return "", fmt.Errorf("no unused value after %d attempts", limit)
}
