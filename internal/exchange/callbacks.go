package exchange

import "sync"

// callbackList - потокобезопасный список подписчиков на события типа T
//
// add возвращает функцию отписки; emit вызывает всех подписчиков синхронно
// в горутине источника события. Callbacks обязаны быть быстрыми -
// тяжёлую работу подписчик делает в своей горутине.
type callbackList[T any] struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(T)
}

func (l *callbackList[T]) add(cb func(T)) func() {
	l.mu.Lock()
	if l.subs == nil {
		l.subs = make(map[int]func(T))
	}
	id := l.nextID
	l.nextID++
	l.subs[id] = cb
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

func (l *callbackList[T]) emit(v T) {
	l.mu.RLock()
	cbs := make([]func(T), 0, len(l.subs))
	for _, cb := range l.subs {
		cbs = append(cbs, cb)
	}
	l.mu.RUnlock()

	for _, cb := range cbs {
		cb(v)
	}
}
