package common

import "time"

// Offsets are the additive bases applied to staged identifiers so a new
// corpus never collides with previously imported ones.
type Offsets struct {
	CorpusIDBase   int64
	CorpusPostBase int64
	NodeIDBase     int64
}

// Corpus is a top-level corpus as recorded in the bookkeeping table.
type Corpus struct {
	ID         int64
	Name       string
	Texts      int64
	Tokens     int64
	SourcePath string
	ImportedAt time.Time
	Pre        int64
	Post       int64
}

// MediaFile is a row of the media lookup table.
type MediaFile struct {
	ID         int64
	Filename   string
	CorpusPath string
	MimeType   string
	Title      string
}
