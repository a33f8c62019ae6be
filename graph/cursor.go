package graph

// CursorKind distinguishes numeric-offset paging from server-issued
// continuation tokens.
type CursorKind string

const (
	CursorOffset      CursorKind = "offset"
	CursorServerToken CursorKind = "serverToken"
	CursorExhausted   CursorKind = "exhausted"
)

// Cursor is the pagination state for one fetch run. Offset cursors advance
// by the records actually returned, and only on a full page; when the server
// hands back a continuation link the cursor switches to the opaque token and
// never derives a skip count again, so result reordering between pages
// cannot drop or duplicate records. In token mode a page without a follow-up
// link is the end of the stream even when it is full, so the cursor becomes
// exhausted instead of pointing at the same token again.
type Cursor struct {
	Kind     CursorKind
	Offset   int
	Token    string
	PageSize int
}

func NewCursor(pageSize int) Cursor {
	return Cursor{Kind: CursorOffset, PageSize: pageSize}
}

// Advance returns the cursor positioned after a page of n records. nextLink
// is the server continuation, "" if none was issued.
func (c Cursor) Advance(n int, nextLink string) Cursor {
	next := c
	if nextLink != "" {
		next.Kind = CursorServerToken
		next.Token = nextLink
		return next
	}
	if c.Kind == CursorServerToken {
		next.Kind = CursorExhausted
		next.Token = ""
		return next
	}
	if c.Kind == CursorOffset && n == c.PageSize {
		next.Offset += n
	}
	return next
}

// Exhausted reports whether the server signaled end-of-stream.
func (c Cursor) Exhausted() bool {
	return c.Kind == CursorExhausted
}
