package config

var UserCtxKey = &contextKey{"user"}
var RequestIDCtxKey = &contextKey{"request-id"}

type contextKey struct {
	name string
}

func (k *contextKey) String() string {
	return "drivenet context value " + k.name
}
