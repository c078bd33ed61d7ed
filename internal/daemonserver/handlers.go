package daemonserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/clearcmos/nixnavd/internal/daemonerrors"
	"github.com/clearcmos/nixnavd/internal/protocol"
	"github.com/clearcmos/nixnavd/internal/store"
	"github.com/clearcmos/nixnavd/internal/types"
)

func writeError(conn net.Conn, kind daemonerrors.Kind, message string) {
	_ = protocol.WriteResponse(conn, protocol.ErrorResponse{Error: string(kind), Message: message})
}

func (s *Server) dispatch(ctx context.Context, conn net.Conn, req protocol.RawRequest) {
	switch req.Command {
	case protocol.CmdPing:
		_ = protocol.WriteResponse(conn, protocol.NewPingResponse())

	case protocol.CmdStats:
		files, trigrams := s.deps.Store.Stats()
		_ = protocol.WriteResponse(conn, protocol.StatsResponse{
			Files:     files,
			Trigrams:  trigrams,
			Bookmarks: s.deps.Bookmarks.Count(),
		})

	case protocol.CmdSearch:
		s.handleSearch(conn, req.Body)

	case protocol.CmdSearchAll:
		s.handleSearchAll(conn, req.Body)

	case protocol.CmdRescan:
		s.handleRescan(ctx, conn, req.Body)

	case protocol.CmdAddBookmark:
		s.handleAddBookmark(ctx, conn, req.Body)

	case protocol.CmdRemoveBookmark:
		s.handleRemoveBookmark(conn, req.Body)

	default:
		writeError(conn, daemonerrors.KindBadRequest, fmt.Sprintf("unknown command %q", req.Command))
	}
}

func (s *Server) resolveBookmarkRoot(name string) (string, bool) {
	b, ok := s.deps.Bookmarks.ByName(name)
	if !ok {
		return "", false
	}
	return b.Path, true
}

func parseMode(m protocol.Mode) store.Mode {
	switch m {
	case protocol.ModeFiles:
		return store.ModeFiles
	case protocol.ModeDirs:
		return store.ModeDirs
	default:
		return store.ModeAll
	}
}

func toResultEntries(recs []types.FileRecord) []protocol.SearchResultEntry {
	out := make([]protocol.SearchResultEntry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, protocol.SearchResultEntry{
			Path:  rec.Path,
			IsDir: rec.IsDir,
			Size:  rec.Size,
			Mtime: rec.Mtime,
		})
	}
	return out
}

func (s *Server) handleSearch(conn net.Conn, body string) {
	var req protocol.SearchRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		writeError(conn, daemonerrors.KindBadRequest, "malformed SEARCH body: "+err.Error())
		return
	}

	parsed := protocol.ParseQuery(req.Query, s.resolveBookmarkRoot)
	ext := ""
	if req.Extension != nil {
		ext = *req.Extension
	} else if parsed.Extension != nil {
		ext = *parsed.Extension
	}

	var prefixes []string
	switch {
	case parsed.BookmarkPath != "":
		prefixes = []string{parsed.BookmarkPath}
	case req.BookmarkPath != "":
		if _, ok := s.deps.Bookmarks.ByPath(req.BookmarkPath); !ok {
			writeError(conn, daemonerrors.KindBadArgument, fmt.Sprintf("unknown bookmark path %q", req.BookmarkPath))
			return
		}
		prefixes = []string{req.BookmarkPath}
	}

	start := time.Now()
	results := s.deps.Store.Query(store.QueryOptions{
		Search:       parsed.Search,
		RootPrefixes: prefixes,
		Extension:    ext,
		Mode:         parseMode(req.Mode),
	})
	elapsed := time.Since(start)

	totalIndexed, _ := s.deps.Store.Stats()
	_ = protocol.WriteResponse(conn, protocol.SearchResponse{
		Results:      toResultEntries(results),
		TotalIndexed: totalIndexed,
		SearchTimeMs: elapsed.Milliseconds(),
	})
}

func (s *Server) handleSearchAll(conn net.Conn, body string) {
	var req protocol.SearchAllRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		writeError(conn, daemonerrors.KindBadRequest, "malformed SEARCH_ALL body: "+err.Error())
		return
	}

	parsed := protocol.ParseQuery(req.Query, s.resolveBookmarkRoot)
	ext := ""
	if req.Extension != nil {
		ext = *req.Extension
	} else if parsed.Extension != nil {
		ext = *parsed.Extension
	}

	prefixes := req.BookmarkPaths
	if parsed.BookmarkPath != "" {
		prefixes = []string{parsed.BookmarkPath}
	}
	for _, p := range prefixes {
		if _, ok := s.deps.Bookmarks.ByPath(p); !ok {
			writeError(conn, daemonerrors.KindBadArgument, fmt.Sprintf("unknown bookmark path %q", p))
			return
		}
	}

	start := time.Now()
	results := s.deps.Store.Query(store.QueryOptions{
		Search:       parsed.Search,
		RootPrefixes: prefixes,
		Extension:    ext,
		Mode:         store.ModeAll,
	})
	elapsed := time.Since(start)

	totalIndexed, _ := s.deps.Store.Stats()
	_ = protocol.WriteResponse(conn, protocol.SearchResponse{
		Results:      toResultEntries(results),
		TotalIndexed: totalIndexed,
		SearchTimeMs: elapsed.Milliseconds(),
	})
}

func (s *Server) handleRescan(ctx context.Context, conn net.Conn, body string) {
	path := body
	if path == "" {
		writeError(conn, daemonerrors.KindBadArgument, "RESCAN requires a path")
		return
	}
	if !s.deps.DB.Healthy() {
		writeError(conn, daemonerrors.KindDBError, "persistence layer unavailable")
		return
	}

	indexed, err := s.deps.Rescan(ctx, path)
	if err != nil {
		kind, msg := daemonerrors.Classify(err)
		writeError(conn, kind, msg)
		return
	}
	_ = protocol.WriteResponse(conn, protocol.OKIndexedResponse{Status: "ok", Indexed: indexed})
}

func (s *Server) handleAddBookmark(ctx context.Context, conn net.Conn, body string) {
	var req protocol.AddBookmarkRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		writeError(conn, daemonerrors.KindBadRequest, "malformed ADD_BOOKMARK body: "+err.Error())
		return
	}
	if req.Name == "" || req.Path == "" {
		writeError(conn, daemonerrors.KindBadArgument, "ADD_BOOKMARK requires name and path")
		return
	}
	if !s.deps.DB.Healthy() {
		writeError(conn, daemonerrors.KindDBError, "persistence layer unavailable")
		return
	}

	indexed, err := s.deps.AddBookmark(ctx, req.Name, req.Path, req.IsNetwork)
	if err != nil {
		kind, msg := daemonerrors.Classify(err)
		writeError(conn, kind, msg)
		return
	}
	_ = protocol.WriteResponse(conn, protocol.OKIndexedResponse{Status: "ok", Indexed: indexed})
}

func (s *Server) handleRemoveBookmark(conn net.Conn, body string) {
	var req protocol.RemoveBookmarkRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		writeError(conn, daemonerrors.KindBadRequest, "malformed REMOVE_BOOKMARK body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(conn, daemonerrors.KindBadArgument, "REMOVE_BOOKMARK requires name")
		return
	}
	if !s.deps.DB.Healthy() {
		writeError(conn, daemonerrors.KindDBError, "persistence layer unavailable")
		return
	}

	if err := s.deps.RemoveBookmark(req.Name); err != nil {
		kind, msg := daemonerrors.Classify(err)
		writeError(conn, kind, msg)
		return
	}
	_ = protocol.WriteResponse(conn, protocol.OKIndexedResponse{Status: "ok", Indexed: 0})
}
