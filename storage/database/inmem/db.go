package inmemdb

import (
	"sync"

	"github.com/trezcool/shuttle/core/user"
)

type (
	// DB holds the in-memory account tables. Domain entities live in Store.
	DB struct {
		user *userTable
	}

	userTable struct {
		mutex sync.RWMutex
		table map[string]*user.User
	}
)

func Open() *DB {
	return &DB{
		user: &userTable{table: make(map[string]*user.User)},
	}
}
