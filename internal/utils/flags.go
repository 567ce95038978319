package utils

import (
	"math/bits"
	"strings"

	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"
)

// FlagStringMapping renders bitflag values as a pipe-separated list of registered names
type FlagStringMapping[T constraints.Integer] struct {
	names map[T]string
}

func NewFlagStringMapping[T constraints.Integer]() FlagStringMapping[T] {
	return FlagStringMapping[T]{names: make(map[T]string)}
}

func (m FlagStringMapping[T]) Register(value T, str string) {
	m.names[value] = str
}

func (m FlagStringMapping[T]) FlagsToString(value T) string {
	if value == 0 {
		return "None"
	}

	var flags []T
	for flag := range m.names {
		if value&flag == flag && bits.OnesCount64(uint64(flag)) == 1 {
			flags = append(flags, flag)
		}
	}
	slices.Sort(flags)

	var sb strings.Builder
	var covered T
	for _, flag := range flags {
		if sb.Len() > 0 {
			sb.WriteRune('|')
		}
		sb.WriteString(m.names[flag])
		covered |= flag
	}

	if remaining := value &^ covered; remaining != 0 {
		if sb.Len() > 0 {
			sb.WriteRune('|')
		}
		sb.WriteString("Unknown")
	}

	return sb.String()
}
