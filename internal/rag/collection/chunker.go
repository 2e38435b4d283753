package collection

import "strings"

// chunkParagraphs splits text on blank-line boundaries into chunks close to
// targetSize characters, the default ingestion chunker for collections.
// Paragraphs longer than maxSize are hard-split on whitespace so no chunk
// ever exceeds the limit.
func chunkParagraphs(text string, targetSize, maxSize int) []string {
	if targetSize <= 0 {
		targetSize = 500
	}
	if maxSize <= 0 || maxSize < targetSize {
		maxSize = targetSize * 2
	}

	paragraphs := splitBlankLines(text)

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		if trimmed := strings.TrimSpace(current.String()); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
		current.Reset()
	}

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		if len(p) > maxSize {
			flush()
			chunks = append(chunks, hardSplit(p, maxSize)...)
			continue
		}

		if current.Len() > 0 && current.Len()+len(p)+2 > targetSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	flush()

	return chunks
}

func splitBlankLines(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(normalized, "\n\n")
}

// hardSplit breaks a paragraph that exceeds maxSize on whitespace
// boundaries, never exceeding the limit even for unbroken runs of text.
func hardSplit(text string, maxSize int) []string {
	words := strings.Fields(text)
	var chunks []string
	var current strings.Builder

	for _, w := range words {
		if len(w) > maxSize {
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			for len(w) > maxSize {
				chunks = append(chunks, w[:maxSize])
				w = w[maxSize:]
			}
			if w != "" {
				current.WriteString(w)
			}
			continue
		}

		if current.Len() > 0 && current.Len()+len(w)+1 > maxSize {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(w)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
