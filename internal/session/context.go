package session

import "context"

type contextKey struct{}

// NewContext はStateを格納したコンテキストを返す。
func NewContext(ctx context.Context, st *State) context.Context {
	return context.WithValue(ctx, contextKey{}, st)
}

// FromContext はコンテキストからStateを取得する。
// セッションミドルウェアを通過していない場合はnilを返す。
func FromContext(ctx context.Context) *State {
	st, _ := ctx.Value(contextKey{}).(*State)
	return st
}
