package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ara/core"
	"ara/metrics"
	"ara/ordering"
	"ara/storage"

	"go.uber.org/zap"
)

// FunctionalityStorage defines the tree operations needed by FunctionalityServiceImpl.
// Defined here (consumer package) following Interface Segregation Principle.
type FunctionalityStorage interface {
	ListFunctionalities(ctx context.Context, projectID int64) ([]*core.Functionality, error)
	GetFunctionality(ctx context.Context, projectID, id int64) (*core.Functionality, error)
	InsertWithOrder(ctx context.Context, f *core.Functionality, orderFn storage.OrderFunc) error
	UpdateFunctionality(ctx context.Context, f *core.Functionality) error
	MoveWithOrder(ctx context.Context, projectID, id int64, parentID *int64, orderFn storage.OrderFunc) (*core.Functionality, error)
	DeleteFunctionalities(ctx context.Context, projectID int64, ids []int64) error
}

// SettingsStorage defines the reference data lookups used to validate functionalities.
type SettingsStorage interface {
	GetTeam(ctx context.Context, projectID, id int64) (*core.Team, error)
	ListCountries(ctx context.Context, projectID int64) ([]core.Country, error)
}

// FunctionalityServiceImpl maintains the ordered tree of folders and functionalities.
//
// ORDERING:
// Each node carries a fractional order among its siblings, computed by the ordering
// package inside the storage transaction that inserts or moves the node. The write pool
// has a single connection, so two inserts at the same position cannot interleave.
type FunctionalityServiceImpl struct {
	storage  FunctionalityStorage
	settings SettingsStorage
	logger   *zap.SugaredLogger
}

// NewFunctionalityService panics if a dependency is nil
func NewFunctionalityService(storage FunctionalityStorage, settings SettingsStorage, logger *zap.SugaredLogger) *FunctionalityServiceImpl {
	if storage == nil {
		panic("storage is required")
	}
	if settings == nil {
		panic("settings is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &FunctionalityServiceImpl{storage: storage, settings: settings, logger: logger}
}

// GetTree returns the root nodes of the project, each child list sorted by order.
func (s *FunctionalityServiceImpl) GetTree(ctx context.Context, projectID int64) ([]*core.FunctionalityNode, error) {
	list, err := s.storage.ListFunctionalities(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load functionalities: %w", err)
	}
	return BuildTree(list), nil
}

// BuildTree links a flat node list into a forest. Nodes whose parent is absent
// from the list are treated as roots.
func BuildTree(list []*core.Functionality) []*core.FunctionalityNode {
	nodes := make(map[int64]*core.FunctionalityNode, len(list))
	for _, f := range list {
		nodes[f.ID] = &core.FunctionalityNode{Functionality: *f}
	}

	sorted := make([]ordering.Node, len(list))
	for i, f := range list {
		sorted[i] = f
	}
	sorted = ordering.Sorted(sorted)

	roots := make([]*core.FunctionalityNode, 0)
	for _, n := range sorted {
		node := nodes[n.NodeID()]
		if node.ParentID != nil {
			if parent, ok := nodes[*node.ParentID]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}
	return roots
}

// Create inserts a node relative to referenceID.
//
// BUSINESS LOGIC:
// 1. Validate the fields for the node type and check team and countries exist
// 2. Resolve the parent: the reference itself for LAST_CHILD, its parent otherwise
// 3. Compute the order and insert in one transaction
func (s *FunctionalityServiceImpl) Create(ctx context.Context, projectID int64, f *core.Functionality, referenceID *int64, position ordering.Position) (*core.Functionality, error) {
	node := *f
	node.ID = 0
	node.ProjectID = projectID
	node.Name = strings.TrimSpace(node.Name)
	if err := s.validate(ctx, &node); err != nil {
		return nil, err
	}

	parentID, err := s.resolveParent(ctx, projectID, referenceID, position)
	if err != nil {
		return nil, err
	}
	node.ParentID = parentID

	if err := s.storage.InsertWithOrder(ctx, &node, placeFunc(position, referenceID)); err != nil {
		return nil, translateFunctionalityError(err)
	}

	metrics.FunctionalityInsertions.WithLabelValues("create", string(position)).Inc()
	s.logger.Infow("Functionality created", "action", "create_functionality", "outcome", "success",
		"project_id", projectID, "id", node.ID, "position", position)
	return &node, nil
}

// Update changes the editable fields of a node; parent, order and type are kept.
func (s *FunctionalityServiceImpl) Update(ctx context.Context, projectID int64, f *core.Functionality) (*core.Functionality, error) {
	existing, err := s.storage.GetFunctionality(ctx, projectID, f.ID)
	if err != nil {
		return nil, translateFunctionalityError(err)
	}

	node := *f
	node.ProjectID = projectID
	node.ParentID = existing.ParentID
	node.Order = existing.Order
	node.Type = existing.Type
	node.Name = strings.TrimSpace(node.Name)
	if err := s.validate(ctx, &node); err != nil {
		return nil, err
	}

	if err := s.storage.UpdateFunctionality(ctx, &node); err != nil {
		return nil, translateFunctionalityError(err)
	}
	return &node, nil
}

// Move reparents a node relative to referenceID.
// Moving a node into itself or one of its descendants is rejected.
func (s *FunctionalityServiceImpl) Move(ctx context.Context, projectID, id int64, referenceID *int64, position ordering.Position) (*core.Functionality, error) {
	list, err := s.storage.ListFunctionalities(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load functionalities: %w", err)
	}
	return s.move(ctx, projectID, indexByID(list), id, referenceID, position)
}

// MoveList moves several nodes in sequence. For ABOVE and BELOW, the first node takes the
// requested position and every following node goes right below the previous one, so the
// moved nodes keep the order in which they are listed.
func (s *FunctionalityServiceImpl) MoveList(ctx context.Context, projectID int64, ids []int64, referenceID *int64, position ordering.Position) ([]*core.Functionality, error) {
	moved := make([]*core.Functionality, 0, len(ids))
	ref, pos := referenceID, position
	for _, id := range ids {
		// The tree changes with each move
		list, err := s.storage.ListFunctionalities(ctx, projectID)
		if err != nil {
			return moved, fmt.Errorf("failed to load functionalities: %w", err)
		}
		node, err := s.move(ctx, projectID, indexByID(list), id, ref, pos)
		if err != nil {
			return moved, err
		}
		moved = append(moved, node)
		if pos.NeedsSiblingReference() {
			nodeID := node.ID
			ref, pos = &nodeID, ordering.Below
		}
	}
	return moved, nil
}

func (s *FunctionalityServiceImpl) move(ctx context.Context, projectID int64, byID map[int64]*core.Functionality, id int64, referenceID *int64, position ordering.Position) (*core.Functionality, error) {
	if _, ok := byID[id]; !ok {
		return nil, core.NewNotFound(core.ResourceFunctionality, fmt.Sprintf("functionality %d not found", id))
	}
	if referenceID != nil && *referenceID == id {
		return nil, core.NewBadRequest(core.ResourceFunctionality, core.KeyCannotMoveToItself,
			"a node cannot be moved relative to itself")
	}

	parentID, err := s.resolveParent(ctx, projectID, referenceID, position)
	if err != nil {
		return nil, err
	}
	for p := parentID; p != nil; {
		if *p == id {
			return nil, core.NewBadRequest(core.ResourceFunctionality, core.KeyCannotMoveToItself,
				"a folder cannot be moved into itself or one of its sub-folders")
		}
		parent, ok := byID[*p]
		if !ok {
			break
		}
		p = parent.ParentID
	}

	node, err := s.storage.MoveWithOrder(ctx, projectID, id, parentID, placeFunc(position, referenceID))
	if err != nil {
		return nil, translateFunctionalityError(err)
	}
	metrics.FunctionalityInsertions.WithLabelValues("move", string(position)).Inc()
	return node, nil
}

// Delete removes a node and all its descendants
func (s *FunctionalityServiceImpl) Delete(ctx context.Context, projectID, id int64) error {
	return s.DeleteList(ctx, projectID, []int64{id})
}

// DeleteList removes several nodes with their descendants; nothing is removed if one id is unknown
func (s *FunctionalityServiceImpl) DeleteList(ctx context.Context, projectID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.storage.DeleteFunctionalities(ctx, projectID, ids); err != nil {
		return translateFunctionalityError(err)
	}
	s.logger.Infow("Functionalities deleted", "action", "delete_functionalities", "outcome", "success",
		"project_id", projectID, "count", len(ids))
	return nil
}

// resolveParent returns the parent under which a node lands:
// the reference for LAST_CHILD (nil meaning the root), the reference's parent for ABOVE/BELOW.
func (s *FunctionalityServiceImpl) resolveParent(ctx context.Context, projectID int64, referenceID *int64, position ordering.Position) (*int64, error) {
	if referenceID == nil {
		if position.NeedsSiblingReference() {
			return nil, core.NewInvalidReference(core.ResourceFunctionality,
				fmt.Sprintf("position %s requires a reference node", position))
		}
		if position != ordering.LastChild {
			return nil, core.NewBadRequest(core.ResourceFunctionality, core.KeyValidation, "unknown position: "+string(position))
		}
		return nil, nil
	}

	reference, err := s.storage.GetFunctionality(ctx, projectID, *referenceID)
	if err != nil {
		if errors.Is(err, storage.ErrFunctionalityNotFound) {
			return nil, core.NewNotFound(core.ResourceFunctionality, fmt.Sprintf("reference node %d not found", *referenceID))
		}
		return nil, fmt.Errorf("failed to load reference node: %w", err)
	}

	switch position {
	case ordering.LastChild:
		if !reference.IsFolder() {
			return nil, core.NewBadRequest(core.ResourceFunctionality, core.KeyFunctionalitiesHaveNoChildren,
				"functionalities cannot have children")
		}
		parent := reference.ID
		return &parent, nil
	case ordering.Above, ordering.Below:
		return reference.ParentID, nil
	default:
		return nil, core.NewBadRequest(core.ResourceFunctionality, core.KeyValidation, "unknown position: "+string(position))
	}
}

// validate checks the fields allowed for the node type.
// Folders carry only a name; functionalities need a team, a severity and countries.
func (s *FunctionalityServiceImpl) validate(ctx context.Context, f *core.Functionality) error {
	if f.Name == "" {
		return core.NewBadRequest(core.ResourceFunctionality, core.KeyValidation, "name is required")
	}
	if !f.Type.IsValid() {
		return core.NewBadRequest(core.ResourceFunctionality, core.KeyValidation, "type must be FOLDER or FUNCTIONALITY")
	}

	if f.IsFolder() {
		if f.CountryCodes != "" || f.TeamID != nil || f.Severity != "" || f.Created != "" ||
			f.Started || f.NotAutomatable || f.Comment != "" {
			return core.NewBadRequest(core.ResourceFunctionality, core.KeyValidation, "folders can only have a name")
		}
		return nil
	}

	if f.TeamID == nil {
		return core.NewBadRequest(core.ResourceFunctionality, core.KeyValidation, "team is required")
	}
	if !f.Severity.IsValid() {
		return core.NewBadRequest(core.ResourceFunctionality, core.KeyValidation, "severity must be HIGH, MEDIUM or LOW")
	}
	if f.Started && f.NotAutomatable {
		return core.NewBadRequest(core.ResourceFunctionality, core.KeyValidation,
			"a functionality cannot be both started and not automatable")
	}

	codes := splitCountryCodes(f.CountryCodes)
	if len(codes) == 0 {
		return core.NewBadRequest(core.ResourceFunctionality, core.KeyValidation, "at least one country is required")
	}
	countries, err := s.settings.ListCountries(ctx, f.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to load countries: %w", err)
	}
	known := make(map[string]bool, len(countries))
	for _, c := range countries {
		known[c.Code] = true
	}
	for _, code := range codes {
		if !known[code] {
			return core.NewNotFound(core.ResourceCountry, fmt.Sprintf("country %q not found", code))
		}
	}
	f.CountryCodes = strings.Join(codes, ",")

	team, err := s.settings.GetTeam(ctx, f.ProjectID, *f.TeamID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return core.NewNotFound(core.ResourceTeam, fmt.Sprintf("team %d not found", *f.TeamID))
		}
		return fmt.Errorf("failed to load team: %w", err)
	}
	if !team.AssignFunctionalities {
		return core.NewBadRequest(core.ResourceTeam, core.KeyValidation,
			fmt.Sprintf("team %q cannot be assigned functionalities", team.Name))
	}
	return nil
}

// placeFunc adapts ordering.Place to the storage callback
func placeFunc(position ordering.Position, referenceID *int64) storage.OrderFunc {
	return func(siblings []*core.Functionality) (float64, error) {
		nodes := make([]ordering.Node, len(siblings))
		for i, sibling := range siblings {
			nodes[i] = sibling
		}
		return ordering.Place(position, nodes, referenceID)
	}
}

func splitCountryCodes(s string) []string {
	var codes []string
	seen := make(map[string]bool)
	for _, code := range strings.Split(s, ",") {
		code = strings.TrimSpace(code)
		if code != "" && !seen[code] {
			seen[code] = true
			codes = append(codes, code)
		}
	}
	return codes
}

func indexByID(list []*core.Functionality) map[int64]*core.Functionality {
	byID := make(map[int64]*core.Functionality, len(list))
	for _, f := range list {
		byID[f.ID] = f
	}
	return byID
}

func translateFunctionalityError(err error) error {
	var appErr *core.AppError
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, storage.ErrFunctionalityNotFound):
		return core.NewNotFound(core.ResourceFunctionality, "functionality not found")
	case errors.Is(err, storage.ErrDuplicateName):
		return core.NewNotUnique(core.ResourceFunctionality, "name", "a sibling already has this name")
	case errors.Is(err, storage.ErrConstraintViolation):
		return core.NewNotUnique(core.ResourceFunctionality, "order", "another node took this position, retry")
	default:
		return fmt.Errorf("functionality storage failed: %w", err)
	}
}
