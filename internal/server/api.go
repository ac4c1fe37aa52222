package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/matijazezelj/arbor/internal/tree"
	"github.com/matijazezelj/arbor/pkg/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorStatus maps engine errors to HTTP statuses. Anything unrecognized
// is an internal error whose message is not exposed.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, tree.ErrNodeNotFound), errors.Is(err, tree.ErrParentNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, tree.ErrHasChildren),
		errors.Is(err, tree.ErrRootAlreadyExists),
		errors.Is(err, tree.ErrSegmentOverflow):
		return http.StatusConflict, err.Error()
	case errors.Is(err, tree.ErrInvalidMove):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, msg string, id int64, err error) {
	status, text := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(msg, "id", id, "request_id", requestID(r.Context()), "error", err)
	} else {
		s.logger.Debug(msg, "id", id, "request_id", requestID(r.Context()), "error", err)
	}
	writeError(w, status, text)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.Counts(r.Context())
	if err != nil {
		s.logger.Error("counting nodes", "request_id", requestID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	total := 0
	for _, c := range counts {
		total += c
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_nodes": total,
		"by_kind":     counts,
	})
}

// nodeRequest is the body of create and update calls.
type nodeRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Disabled    bool   `json:"disabled"`
	ParentID    *int64 `json:"parent_id"`
}

func decodeNode(w http.ResponseWriter, r *http.Request) (nodeRequest, bool) {
	var req nodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
		}
		return req, false
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return req, false
	}
	return req, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid node id")
		return 0, false
	}
	return id, true
}

// kindHandlers are the routes of one registered tree.
type kindHandlers struct {
	create, update, remove       http.HandlerFunc
	get, list                    http.HandlerFunc
	children, descendants        http.HandlerFunc
	ancestors, tree, check, sync http.HandlerFunc
}

// Register exposes e under /api/v1/{kind}/. T is the engine's node type,
// e.g. Register[models.NestedSetNode](s, nested).
func Register[T any, P interface {
	*T
	models.Noder
}](s *Server, e tree.Engine[P]) {
	a := &kindAPI[T, P]{s: s, engine: e, kind: e.Kind()}
	s.kinds[a.kind] = kindHandlers{
		create:      a.handleCreate,
		update:      a.handleUpdate,
		remove:      a.handleDelete,
		get:         a.handleGet,
		list:        a.handleList,
		children:    a.handleRelatives(e.Children, "listing children"),
		descendants: a.handleRelatives(e.Descendants, "listing descendants"),
		ancestors:   a.handleRelatives(e.Ancestors, "listing ancestors"),
		tree:        a.handleTree,
		check:       a.handleCheck,
		sync:        a.handleSync,
	}
}

type kindAPI[T any, P interface {
	*T
	models.Noder
}] struct {
	s      *Server
	engine tree.Engine[P]
	kind   models.Kind
}

func (a *kindAPI[T, P]) handleCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeNode(w, r)
	if !ok {
		return
	}

	n := tree.NewNode[T, P](models.Node{Name: req.Name, Description: req.Description, Disabled: req.Disabled})
	created, err := a.engine.Create(r.Context(), n, req.ParentID)
	if err != nil {
		var parent int64
		if req.ParentID != nil {
			parent = *req.ParentID
		}
		a.s.fail(w, r, "creating "+string(a.kind)+" node", parent, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *kindAPI[T, P]) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, ok := decodeNode(w, r)
	if !ok {
		return
	}

	n := tree.NewNode[T, P](models.Node{ID: id, Name: req.Name, Description: req.Description, Disabled: req.Disabled})
	// only the adjacency list can reparent
	if adj, isAdj := any(n).(*models.AdjacencyNode); isAdj {
		adj.ParentID = req.ParentID
	}

	updated, err := a.engine.Update(r.Context(), n)
	if err != nil {
		a.s.fail(w, r, "updating "+string(a.kind)+" node", id, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *kindAPI[T, P]) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.engine.Delete(r.Context(), id); err != nil {
		a.s.fail(w, r, "deleting "+string(a.kind)+" node", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *kindAPI[T, P]) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	n, err := a.engine.Get(r.Context(), id)
	if err != nil {
		a.s.fail(w, r, "getting "+string(a.kind)+" node", id, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (a *kindAPI[T, P]) handleList(w http.ResponseWriter, r *http.Request) {
	nodes, err := a.engine.All(r.Context())
	if err != nil {
		a.s.fail(w, r, "listing "+string(a.kind)+" nodes", 0, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(nodes))
}

func (a *kindAPI[T, P]) handleRelatives(query func(ctx context.Context, id int64) ([]P, error), msg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		nodes, err := query(r.Context(), id)
		if err != nil {
			a.s.fail(w, r, msg, id, err)
			return
		}
		writeJSON(w, http.StatusOK, orEmpty(nodes))
	}
}

var contentTypes = map[string]string{
	tree.FormatText:    "text/plain; charset=utf-8",
	tree.FormatJSON:    "application/json",
	tree.FormatYAML:    "application/yaml",
	tree.FormatDOT:     "text/vnd.graphviz",
	tree.FormatMermaid: "text/plain; charset=utf-8",
}

func (a *kindAPI[T, P]) handleTree(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = tree.FormatJSON
	}
	if !slices.Contains(tree.Formats(), format) {
		writeError(w, http.StatusBadRequest, "format must be one of "+strings.Join(tree.Formats(), ", "))
		return
	}

	forest, err := a.engine.BuildTree(r.Context())
	if err != nil {
		a.s.fail(w, r, "building "+string(a.kind)+" tree", 0, err)
		return
	}
	out, err := tree.Export(a.kind, forest, format)
	if err != nil {
		a.s.fail(w, r, "exporting "+string(a.kind)+" tree", 0, err)
		return
	}

	w.Header().Set("Content-Type", contentTypes[format])
	_, _ = w.Write([]byte(out))
}

func (a *kindAPI[T, P]) handleCheck(w http.ResponseWriter, r *http.Request) {
	report, err := a.engine.Check(r.Context())
	if err != nil {
		a.s.fail(w, r, "checking "+string(a.kind)+" tree", 0, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *kindAPI[T, P]) handleSync(w http.ResponseWriter, r *http.Request) {
	if a.s.mirror == nil {
		writeError(w, http.StatusServiceUnavailable, "mirror not configured")
		return
	}

	forest, err := a.engine.BuildTree(r.Context())
	if err != nil {
		a.s.fail(w, r, "building "+string(a.kind)+" tree", 0, err)
		return
	}
	synced, err := tree.SyncForest(r.Context(), a.s.mirror, a.kind, forest)
	if err != nil {
		a.s.logger.Error("syncing mirror", "kind", a.kind, "request_id", requestID(r.Context()), "error", err)
		writeError(w, http.StatusBadGateway, "mirror sync failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kind": a.kind, "synced": synced})
}

func orEmpty[N any](nodes []N) []N {
	if nodes == nil {
		return []N{}
	}
	return nodes
}
