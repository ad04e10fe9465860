package history

import (
	"context"
	"os/user"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/historian/config"
	"github.com/twitter/historian/timeline"
)

const domainPutTimeout = 30 * time.Second

// setupDomain creates the access-control namespace entities will be posted
// into. Returns "" when ACLs are off or domain creation failed; entities are
// then posted without a domain id.
func (s *HistoryService) setupDomain() string {
	conf := s.conf
	if conf.Domain != "" {
		return conf.Domain
	}
	if !conf.AclsEnable {
		return ""
	}

	current := currentUser(conf)
	admin := config.SplitList(conf.AdminAcls)
	view := config.SplitList(conf.ViewAcls)
	modify := config.SplitList(conf.ModifyAcls)

	readers := joinUnique(current, admin, modify, view)
	writers := joinUnique(current, admin, modify)
	domain := &timeline.Domain{
		ID:      DomainIDPrefix + s.appID,
		Readers: readers,
		Writers: writers,
	}

	ctx, cancel := context.WithTimeout(context.Background(), domainPutTimeout)
	defer cancel()
	if err := s.client.PutDomain(ctx, domain); err != nil {
		log.Warnf("Failed to create timeline domain %s: %v; posting without a domain", domain.ID, err)
		return ""
	}
	log.Infof("Created timeline domain %s (readers=%q writers=%q)", domain.ID, readers, writers)
	return domain.ID
}

// currentUser resolves the posting user: config override first, then the
// process owner.
func currentUser(conf *config.Config) string {
	if conf.UserName != "" {
		return conf.UserName
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}

// joinUnique space-joins the union of the given principal lists, first
// occurrence wins.
func joinUnique(first string, lists ...[]string) string {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	add(first)
	for _, list := range lists {
		for _, p := range list {
			add(p)
		}
	}
	return strings.Join(out, " ")
}
