package ner

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// Piece is one wordpiece aligned to a sequence position. Start/End are
// byte offsets into the original text; special tokens carry zero
// offsets and Special=true.
type Piece struct {
	Start   int
	End     int
	Special bool
}

// Encoding is a tokenized input ready for model inference.
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
	Pieces        []Piece
	Truncated     bool
}

// Encoder turns text into WordPiece token IDs while tracking the byte
// offset of every piece, so model predictions can be mapped back onto
// the original text.
type Encoder struct {
	vocab     map[string]int64
	maxLength int

	clsID int64
	sepID int64
	padID int64
	unkID int64
}

// NewEncoder loads a newline-delimited vocab.txt (one token per line,
// line number = id) and prepares the encoder.
func NewEncoder(vocabPath string, maxLength int) (*Encoder, error) {
	file, err := os.Open(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer file.Close()

	vocab := make(map[string]int64)
	scanner := bufio.NewScanner(file)
	var id int64
	for scanner.Scan() {
		vocab[strings.TrimRight(scanner.Text(), "\r\n")] = id
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}

	enc := &Encoder{vocab: vocab, maxLength: maxLength}
	for name, dst := range map[string]*int64{
		"[CLS]": &enc.clsID,
		"[SEP]": &enc.sepID,
		"[PAD]": &enc.padID,
		"[UNK]": &enc.unkID,
	} {
		v, ok := vocab[name]
		if !ok {
			return nil, fmt.Errorf("vocab missing special token %s", name)
		}
		*dst = v
	}
	return enc, nil
}

// Encode tokenizes text with [CLS]/[SEP] framing, pads to max length,
// and records byte offsets per piece.
func (e *Encoder) Encode(text string) *Encoding {
	enc := &Encoding{
		InputIDs:      []int64{e.clsID},
		AttentionMask: []int64{1},
		Pieces:        []Piece{{Special: true}},
	}

	for _, w := range basicTokenize(text) {
		if len(enc.InputIDs) >= e.maxLength-1 {
			enc.Truncated = true
			break
		}
		for _, p := range e.wordpiece(w) {
			if len(enc.InputIDs) >= e.maxLength-1 {
				enc.Truncated = true
				break
			}
			enc.InputIDs = append(enc.InputIDs, p.id)
			enc.AttentionMask = append(enc.AttentionMask, 1)
			enc.Pieces = append(enc.Pieces, Piece{Start: p.start, End: p.end})
		}
	}

	enc.InputIDs = append(enc.InputIDs, e.sepID)
	enc.AttentionMask = append(enc.AttentionMask, 1)
	enc.Pieces = append(enc.Pieces, Piece{Special: true})

	for len(enc.InputIDs) < e.maxLength {
		enc.InputIDs = append(enc.InputIDs, e.padID)
		enc.AttentionMask = append(enc.AttentionMask, 0)
		enc.Pieces = append(enc.Pieces, Piece{Special: true})
	}
	return enc
}

type word struct {
	text  string
	start int
	end   int
}

type idPiece struct {
	id    int64
	start int
	end   int
}

// basicTokenize splits on whitespace and makes each punctuation rune
// its own token, keeping byte offsets.
func basicTokenize(text string) []word {
	var words []word
	start := -1
	flush := func(end int) {
		if start >= 0 {
			words = append(words, word{text: text[start:end], start: start, end: end})
			start = -1
		}
	}
	for i, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush(i)
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush(i)
			end := i + len(string(r))
			words = append(words, word{text: text[i:end], start: i, end: end})
		default:
			if start < 0 {
				start = i
			}
		}
	}
	flush(len(text))
	return words
}

// wordpiece greedily matches the longest vocab entry, lowercased, with
// "##" continuation pieces. An unmatchable word becomes a single [UNK]
// spanning the whole word.
func (e *Encoder) wordpiece(w word) []idPiece {
	lower := strings.ToLower(w.text)
	var pieces []idPiece

	offset := 0
	for offset < len(lower) {
		end := len(lower)
		matched := int64(-1)
		for end > offset {
			sub := lower[offset:end]
			if offset > 0 {
				sub = "##" + sub
			}
			if id, ok := e.vocab[sub]; ok {
				matched = id
				break
			}
			end--
		}
		if matched < 0 {
			return []idPiece{{id: e.unkID, start: w.start, end: w.end}}
		}
		pieces = append(pieces, idPiece{id: matched, start: w.start + offset, end: w.start + end})
		offset = end
	}
	return pieces
}
