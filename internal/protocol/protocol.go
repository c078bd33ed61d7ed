// Package protocol defines the daemon's wire contract (spec §6): the
// newline-delimited JSON request/response shapes and the query-string
// mini-grammar (bookmark-name prefix, extension glob) parsed out of a
// SEARCH request's query field.
package protocol

// Mode restricts a SEARCH/SEARCH_ALL result set to files, directories, or
// both.
type Mode string

const (
	ModeAll   Mode = "all"
	ModeFiles Mode = "files"
	ModeDirs  Mode = "dirs"
)

// SearchRequest is the body of a SEARCH command.
type SearchRequest struct {
	BookmarkPath string  `json:"bookmark_path"`
	Mode         Mode    `json:"mode"`
	Query        string  `json:"query"`
	Extension    *string `json:"extension"`
}

// SearchAllRequest is the body of a SEARCH_ALL command.
type SearchAllRequest struct {
	BookmarkPaths []string `json:"bookmark_paths"`
	Query         string   `json:"query"`
	Extension     *string  `json:"extension"`
}

// AddBookmarkRequest is the body of an ADD_BOOKMARK command.
type AddBookmarkRequest struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	IsNetwork bool   `json:"is_network"`
}

// RemoveBookmarkRequest is the body of the supplemented REMOVE_BOOKMARK
// command.
type RemoveBookmarkRequest struct {
	Name string `json:"name"`
}

// SearchResultEntry is one row of a SEARCH/SEARCH_ALL response.
type SearchResultEntry struct {
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  uint64 `json:"size"`
	Mtime int64  `json:"mtime"`
}

// SearchResponse is the response shape shared by SEARCH and SEARCH_ALL.
type SearchResponse struct {
	Results      []SearchResultEntry `json:"results"`
	TotalIndexed int                 `json:"total_indexed"`
	SearchTimeMs int64               `json:"search_time_ms"`
}

// PingResponse answers PING.
type PingResponse struct {
	Status string `json:"status"`
}

// StatsResponse answers STATS.
type StatsResponse struct {
	Files     int `json:"files"`
	Trigrams  int `json:"trigrams"`
	Bookmarks int `json:"bookmarks"`
}

// OKIndexedResponse answers RESCAN and ADD_BOOKMARK.
type OKIndexedResponse struct {
	Status  string `json:"status"`
	Indexed int    `json:"indexed"`
}

// ErrorResponse is returned exactly once per failed request, per spec §7.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewPingResponse() PingResponse { return PingResponse{Status: "pong"} }
