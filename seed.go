package auth

import (
	"context"
	"io/fs"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"gopkg.in/yaml.v3"
)

const defaultCatalogPath = "data/seed/catalog.yml"

// Catalog is the RBAC seed: the permissions and the system roles that hold them.
type Catalog struct {
	Permissions []CatalogPermission `yaml:"permissions"`
	Roles       []CatalogRole       `yaml:"roles"`
}

type CatalogPermission struct {
	Name        string `yaml:"name"`
	Resource    string `yaml:"resource"`
	Action      string `yaml:"action"`
	Category    string `yaml:"category"`
	Description string `yaml:"description"`
}

type CatalogRole struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// DefaultCatalog parses the embedded catalog
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog(seedFS, defaultCatalogPath)
}

// LoadCatalog parses a YAML catalog from fsys
func LoadCatalog(fsys fs.FS, path string) (*Catalog, error) {
	raw, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read seed catalog").
			WithMetadata(map[string]any{"path": path})
	}

	catalog := &Catalog{}
	if err := yaml.Unmarshal(raw, catalog); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "failed to parse seed catalog").
			WithMetadata(map[string]any{"path": path})
	}

	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return catalog, nil
}

// Validate checks that every role grant names a declared permission
func (c *Catalog) Validate() error {
	declared := make(map[string]struct{}, len(c.Permissions))
	for _, p := range c.Permissions {
		if strings.TrimSpace(p.Name) == "" {
			return validationError("seed permission without name", nil)
		}
		declared[strings.ToLower(p.Name)] = struct{}{}
	}
	for _, r := range c.Roles {
		if strings.TrimSpace(r.Name) == "" {
			return validationError("seed role without name", nil)
		}
		for _, p := range r.Permissions {
			if _, ok := declared[strings.ToLower(p)]; !ok {
				return validationError("seed role grants unknown permission", map[string]any{
					"role":       r.Name,
					"permission": p,
				})
			}
		}
	}
	return nil
}

// SeedResult counts what a seed run created
type SeedResult struct {
	PermissionsCreated int
	RolesCreated       int
}

// Seeder writes a catalog into the database. Running it again only fills in
// what is missing.
type Seeder struct {
	repo    RepositoryManager
	catalog *Catalog
	logger  Logger
}

func NewSeeder(repo RepositoryManager, catalog *Catalog) *Seeder {
	return &Seeder{
		repo:    repo,
		catalog: catalog,
		logger:  defaultLogger("seed"),
	}
}

func (s *Seeder) WithLogger(logger Logger) *Seeder {
	s.logger = resolveLogger("seed", logger)
	return s
}

// Seed creates missing permissions and system roles and grants the catalog
// permissions. Records an admin soft deleted are left deleted.
func (s *Seeder) Seed(ctx context.Context) (SeedResult, error) {
	result := SeedResult{}

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		perms := s.repo.Permissions().WithTx(tx)
		roles := s.repo.Roles().WithTx(tx)

		byName := make(map[string]uuid.UUID, len(s.catalog.Permissions))
		for _, cp := range s.catalog.Permissions {
			id, created, err := s.ensurePermission(ctx, perms, cp)
			if err != nil {
				return err
			}
			if created {
				result.PermissionsCreated++
			}
			if id != uuid.Nil {
				byName[strings.ToLower(cp.Name)] = id
			}
		}

		for _, cr := range s.catalog.Roles {
			roleID, created, err := s.ensureRole(ctx, roles, cr)
			if err != nil {
				return err
			}
			if created {
				result.RolesCreated++
			}
			if roleID == uuid.Nil {
				continue
			}
			for _, name := range cr.Permissions {
				permID, ok := byName[strings.ToLower(name)]
				if !ok {
					continue
				}
				if err := perms.Grant(ctx, roleID, permID); err != nil {
					return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to grant seed permission").
						WithMetadata(map[string]any{"role": cr.Name, "permission": name})
				}
			}
		}
		return nil
	})
	if err != nil {
		return SeedResult{}, err
	}

	s.logger.Info("rbac catalog seeded",
		"permissions_created", result.PermissionsCreated,
		"roles_created", result.RolesCreated,
	)
	return result, nil
}

func (s *Seeder) ensurePermission(ctx context.Context, perms Permissions, cp CatalogPermission) (uuid.UUID, bool, error) {
	existing, err := perms.GetByName(ctx, cp.Name)
	if err == nil {
		return existing.ID, false, nil
	}
	if !IsNotFound(err) {
		return uuid.Nil, false, err
	}

	id, err := seedID("permission", cp.Name)
	if err != nil {
		return uuid.Nil, false, err
	}
	if _, err := perms.GetTrashedByID(ctx, id); err == nil {
		s.logger.Debug("seed permission is deleted, skipping", "permission", cp.Name)
		return uuid.Nil, false, nil
	}

	record := &Permission{
		Name:        cp.Name,
		Resource:    cp.Resource,
		Action:      cp.Action,
		Category:    cp.Category,
		Description: cp.Description,
	}
	record.ID = id
	if _, err := perms.Add(ctx, record); err != nil {
		return uuid.Nil, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create seed permission").
			WithMetadata(map[string]any{"permission": cp.Name})
	}
	return id, true, nil
}

func (s *Seeder) ensureRole(ctx context.Context, roles Roles, cr CatalogRole) (uuid.UUID, bool, error) {
	existing, err := roles.GetByName(ctx, cr.Name)
	if err == nil {
		return existing.ID, false, nil
	}
	if !IsNotFound(err) {
		return uuid.Nil, false, err
	}

	id, err := seedID("role", cr.Name)
	if err != nil {
		return uuid.Nil, false, err
	}
	if _, err := roles.GetTrashedByID(ctx, id); err == nil {
		s.logger.Debug("seed role is deleted, skipping", "role", cr.Name)
		return uuid.Nil, false, nil
	}

	record := &Role{
		Name:        cr.Name,
		Description: cr.Description,
		IsSystem:    true,
	}
	record.ID = id
	if _, err := roles.Add(ctx, record); err != nil {
		return uuid.Nil, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create seed role").
			WithMetadata(map[string]any{"role": cr.Name})
	}
	return id, true, nil
}

func seedID(kind, name string) (uuid.UUID, error) {
	id, err := hashid.NewUUID(kind + ":" + strings.ToLower(name))
	if err != nil {
		return uuid.Nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to derive seed id")
	}
	return id, nil
}
