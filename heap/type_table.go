package heap

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/regvm/vmheap/internal/utils"
)

// ErrUnknownType is returned when a TypeToken has not been registered
var ErrUnknownType = errors.New("unknown type token")

// TypeTable is the in-process TypeRegistry: a tagged-layout table keyed by type token
type TypeTable struct {
	mutex  utils.OptionalRWMutex
	types  *swiss.Map[TypeToken, *TypeInfo]
	byName *swiss.Map[string, TypeToken]
	next   TypeToken
}

var _ TypeRegistry = &TypeTable{}

func NewTypeTable() *TypeTable {
	return &TypeTable{
		types:  swiss.NewMap[TypeToken, *TypeInfo](42),
		byName: swiss.NewMap[string, TypeToken](42),
		next:   1,
	}
}

// Register assigns a token to info and stores it. Names must be unique.
func (t *TypeTable) Register(info TypeInfo) (TypeToken, error) {
	if err := info.Validate(); err != nil {
		return 0, err
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	if _, exists := t.byName.Get(info.Name); exists {
		return 0, errors.Newf("type %q is already registered", info.Name)
	}

	info.Token = t.next
	t.next++

	t.types.Put(info.Token, &info)
	t.byName.Put(info.Name, info.Token)
	return info.Token, nil
}

// MustRegister is Register for type tables built at startup, where failure is a programming error
func (t *TypeTable) MustRegister(info TypeInfo) TypeToken {
	token, err := t.Register(info)
	if err != nil {
		panic(err)
	}
	return token
}

func (t *TypeTable) Type(token TypeToken) (*TypeInfo, error) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	info, ok := t.types.Get(token)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownType, "token %d", token)
	}
	return info, nil
}

func (t *TypeTable) Lookup(name string) (TypeToken, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.byName.Get(name)
}

func (t *TypeTable) Count() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.types.Count()
}
