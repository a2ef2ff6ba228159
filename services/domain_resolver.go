package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2/log"
	"github.com/sahilchouksey/campus-notes/model"
	"gorm.io/gorm"
)

// ErrDomainCollision means two universities claim the same email domain.
var ErrDomainCollision = errors.New("email domain is already claimed by another university")

// DomainCollisionError names the conflicting domain and owners.
type DomainCollisionError struct {
	Domain         string
	UniversityID   uint
	ConflictingID  uint
	ConflictingTag string
}

func (e *DomainCollisionError) Error() string {
	return fmt.Sprintf("domain %q of university %d is already used by %s (id %d)",
		e.Domain, e.UniversityID, e.ConflictingTag, e.ConflictingID)
}

func (e *DomainCollisionError) Unwrap() error { return ErrDomainCollision }

// NormalizeDomain lowercases and trims a domain, dropping a leading "@" or trailing dot.
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "@")
	return strings.TrimSuffix(d, ".")
}

// ExtractDomain returns the normalized part after the last "@". Inputs without "@"
// are treated as bare domains. ok is false when nothing usable remains.
func ExtractDomain(domainOrEmail string) (string, bool) {
	s := strings.TrimSpace(domainOrEmail)
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	d := NormalizeDomain(s)
	return d, d != ""
}

// DomainResolver maps an email or domain to the university that owns it.
// Primary domains and aliases share one index, so a lookup is a single map read.
// The index is rebuilt wholesale by Reload and swapped under a lock.
type DomainResolver struct {
	db *gorm.DB

	mu    sync.RWMutex
	index map[string]model.University
}

func NewDomainResolver(db *gorm.DB) *DomainResolver {
	return &DomainResolver{db: db, index: map[string]model.University{}}
}

// BuildDomainIndex flattens primary domains and aliases into one map.
// A domain appearing twice (across or within universities) is rejected.
func BuildDomainIndex(universities []model.University) (map[string]model.University, error) {
	index := make(map[string]model.University, len(universities)*2)
	for _, u := range universities {
		seen := map[string]bool{}
		for _, raw := range u.AllDomains() {
			d := NormalizeDomain(raw)
			if d == "" || seen[d] {
				continue
			}
			seen[d] = true
			if existing, taken := index[d]; taken {
				return nil, &DomainCollisionError{
					Domain:         d,
					UniversityID:   u.ID,
					ConflictingID:  existing.ID,
					ConflictingTag: existing.Name,
				}
			}
			index[d] = u
		}
	}
	return index, nil
}

// Reload rebuilds the index from every university row, active or not.
// On a collision the previous index is kept.
func (r *DomainResolver) Reload(ctx context.Context) error {
	var universities []model.University
	if err := r.db.WithContext(ctx).Order("id").Find(&universities).Error; err != nil {
		return fmt.Errorf("load universities: %w", err)
	}

	index, err := BuildDomainIndex(universities)
	if err != nil {
		log.Errorw("[DOMAIN] index rebuild rejected", "error", err)
		return err
	}

	r.mu.Lock()
	r.index = index
	r.mu.Unlock()

	log.Debugw("[DOMAIN] index rebuilt", "universities", len(universities), "domains", len(index))
	return nil
}

// Resolve looks up an email address or bare domain. Matching is case-insensitive.
// Inactive universities are returned too; callers decide whether to accept them.
func (r *DomainResolver) Resolve(domainOrEmail string) (model.University, bool) {
	d, ok := ExtractDomain(domainOrEmail)
	if !ok {
		return model.University{}, false
	}
	r.mu.RLock()
	u, found := r.index[d]
	r.mu.RUnlock()
	return u, found
}

// Size returns the number of indexed domains.
func (r *DomainResolver) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index)
}

// CheckCandidate verifies, against the rows visible through db, that candidate's
// domains collide with no other university. Pass a transaction to make the check
// and the following write atomic. candidate.ID is zero for a new university.
func (r *DomainResolver) CheckCandidate(ctx context.Context, db *gorm.DB, candidate model.University) error {
	var others []model.University
	query := db.WithContext(ctx).Order("id")
	if candidate.ID != 0 {
		query = query.Where("id <> ?", candidate.ID)
	}
	if err := query.Find(&others).Error; err != nil {
		return fmt.Errorf("load universities: %w", err)
	}
	_, err := BuildDomainIndex(append(others, candidate))
	return err
}

// NormalizeDomainList trims, lowercases, drops blanks and duplicates, and sorts.
func NormalizeDomainList(domains []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(domains))
	for _, raw := range domains {
		d := NormalizeDomain(raw)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
