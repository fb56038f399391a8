package token

import "sync"

// Binding is one worker's view of the store: the token it currently uses and
// the user info fetched with it.
type Binding struct {
	store *Store

	mu       sync.Mutex
	token    string
	userInfo *UserInfo
}

// Bind returns a binding to the token at index (mod Len).
func (s *Store) Bind(index int) (*Binding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tokens) == 0 {
		return nil, false
	}
	if index < 0 {
		index = 0
	}
	return &Binding{store: s, token: s.tokens[index%len(s.tokens)]}, true
}

func (b *Binding) Token() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.token
}

func (b *Binding) Len() int {
	return b.store.Len()
}

// Advance moves the shared cursor and rebinds to the token it lands on.
func (b *Binding) Advance() (string, bool) {
	next, ok := b.store.Advance()
	if !ok {
		return "", false
	}
	b.mu.Lock()
	b.token = next
	b.userInfo = nil
	b.mu.Unlock()
	return next, true
}

func (b *Binding) UserInfo() *UserInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.userInfo
}

func (b *Binding) SetUserInfo(info *UserInfo) {
	b.mu.Lock()
	b.userInfo = info
	b.mu.Unlock()
	b.store.SetUserInfo(info)
}
