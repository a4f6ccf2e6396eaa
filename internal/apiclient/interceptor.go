package apiclient

import "context"

// SendFunc performs a request and returns the normalized outcome.
type SendFunc func(ctx context.Context, req *Request) (*Response, error)

// Interceptor wraps a SendFunc with extra behaviour.
type Interceptor interface {
	Wrap(next SendFunc) SendFunc
}

// InterceptorFunc adapts a function to Interceptor.
type InterceptorFunc func(next SendFunc) SendFunc

func (f InterceptorFunc) Wrap(next SendFunc) SendFunc {
	return f(next)
}

// Chain composes interceptors around send. The first interceptor is the
// outermost, so it sees the request first and the result last.
func Chain(send SendFunc, interceptors ...Interceptor) SendFunc {
	for i := len(interceptors) - 1; i >= 0; i-- {
		if interceptors[i] == nil {
			continue
		}
		send = interceptors[i].Wrap(send)
	}
	return send
}
