package storage

import (
	"context"
	"database/sql"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/technosupport/ts-radio/internal/engine"
)

// TalkgroupDirectory resolves talkgroup reference data for the
// normalizer. Read-only; directory rows are loaded out of band (CSV
// import, admin tooling). Lookups are cached since the same talkgroups
// repeat constantly during a busy incident.
type TalkgroupDirectory struct {
	db    DBTX
	cache *lru.Cache[string, engine.TalkgroupInfo]
}

func NewTalkgroupDirectory(db DBTX) *TalkgroupDirectory {
	c, _ := lru.New[string, engine.TalkgroupInfo](4096)
	return &TalkgroupDirectory{db: db, cache: c}
}

func (d *TalkgroupDirectory) EnrichTalkgroup(ctx context.Context, systemID string, tgid int) (engine.TalkgroupInfo, bool) {
	key := cacheKey(systemID, tgid)
	if info, ok := d.cache.Get(key); ok {
		return info, info != (engine.TalkgroupInfo{})
	}

	var info engine.TalkgroupInfo
	var alpha, tag, group, desc sql.NullString
	err := d.db.QueryRowContext(ctx, `
		SELECT alpha_tag, tag, grp, description
		FROM talkgroups WHERE system_id = $1 AND tgid = $2`,
		systemID, tgid,
	).Scan(&alpha, &tag, &group, &desc)

	if err != nil {
		// Not found or unavailable: cache the miss, enrichment is
		// best effort and must never stall normalization.
		d.cache.Add(key, engine.TalkgroupInfo{})
		return engine.TalkgroupInfo{}, false
	}

	info = engine.TalkgroupInfo{
		AlphaTag:    alpha.String,
		Tag:         tag.String,
		Group:       group.String,
		Description: desc.String,
	}
	d.cache.Add(key, info)
	return info, true
}

func cacheKey(systemID string, tgid int) string {
	return fmt.Sprintf("%s|%d", systemID, tgid)
}
