package core

type ctxKey string

const (
	CtxKeyUsername ctxKey = ctxKey("username")
	CtxKeyUserID   ctxKey = ctxKey("userId")
)
