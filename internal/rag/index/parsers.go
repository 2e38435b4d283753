package index

import (
	"sync"

	"github.com/cascadehq/engine/internal/rag/parser/markdown"
	"github.com/cascadehq/engine/internal/rag/parser/text"
)

var registerParsersOnce sync.Once

func ensureDefaultParsers() {
	registerParsersOnce.Do(func() {
		markdown.Register()
		text.Register()
	})
}
