package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/Skynet2005/MobileGame-sub001/apperr"
	"github.com/Skynet2005/MobileGame-sub001/cache"
	"github.com/Skynet2005/MobileGame-sub001/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CharacterRepo is the gorm-backed identity oracle.
type CharacterRepo struct {
	db *gorm.DB
}

// NewCharacterRepo creates a CharacterRepo.
func NewCharacterRepo(db *gorm.DB) *CharacterRepo {
	return &CharacterRepo{db: db}
}

func (r *CharacterRepo) Profile(ctx context.Context, id int64) (*Profile, error) {
	var c model.Character
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, notFound(err, apperr.ErrCharacterNotFound)
	}
	p := &Profile{ID: c.ID, Name: c.Name, AllianceID: c.AllianceID}
	if c.AllianceID != nil {
		var a model.Alliance
		err := r.db.WithContext(ctx).Select("tag").First(&a, *c.AllianceID).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Internal(err)
		}
		p.AllianceTag = a.Tag
	}
	return p, nil
}

// Rename changes the display name. Historical message snapshots are not touched.
func (r *CharacterRepo) Rename(ctx context.Context, id int64, name string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.Character{}).Where("name = ? AND id <> ?", name, id).Count(&n).Error; err != nil {
			return apperr.Internal(err)
		}
		if n > 0 {
			return apperr.ErrNameTaken
		}
		res := tx.Model(&model.Character{}).Where("id = ?", id).Update("name", name)
		if res.Error != nil {
			return apperr.Internal(res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.ErrCharacterNotFound
		}
		return nil
	})
}

func (r *CharacterRepo) SetOnline(ctx context.Context, id int64, online bool) error {
	err := r.db.WithContext(ctx).Model(&model.Character{}).Where("id = ?", id).
		Updates(map[string]interface{}{"online": online, "last_seen_at": time.Now()}).Error
	return internal(err)
}

// Invalidate is a no-op; CharacterRepo holds no cache.
func (r *CharacterRepo) Invalidate(context.Context, int64) {}

// ---- cached oracle ----

const profileTTL = 10 * time.Minute

// CachedCharacters fronts a CharacterStore with a char:<id> hash in cache.Cache.
// Cache failures fall through to the underlying store.
type CachedCharacters struct {
	next   CharacterStore
	cache  cache.Cache
	logger *zap.Logger
}

// NewCachedCharacters wraps next with a profile cache.
func NewCachedCharacters(next CharacterStore, c cache.Cache, logger *zap.Logger) *CachedCharacters {
	return &CachedCharacters{next: next, cache: c, logger: logger}
}

func profileKey(id int64) string { return "char:" + strconv.FormatInt(id, 10) }

func (c *CachedCharacters) Profile(ctx context.Context, id int64) (*Profile, error) {
	key := profileKey(id)
	if fields, err := c.cache.HGetAll(ctx, key); err == nil && len(fields) > 0 {
		if p, ok := decodeProfile(id, fields); ok {
			return p, nil
		}
	}
	p, err := c.next.Profile(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.cache.HSet(ctx, key, encodeProfile(p)); err != nil {
		c.logger.Warn("profile cache write failed", zap.Int64("char_id", id), zap.Error(err))
		return p, nil
	}
	_ = c.cache.Expire(ctx, key, profileTTL)
	return p, nil
}

func (c *CachedCharacters) Rename(ctx context.Context, id int64, name string) error {
	if err := c.next.Rename(ctx, id, name); err != nil {
		return err
	}
	c.Invalidate(ctx, id)
	return nil
}

func (c *CachedCharacters) SetOnline(ctx context.Context, id int64, online bool) error {
	return c.next.SetOnline(ctx, id, online)
}

func (c *CachedCharacters) Invalidate(ctx context.Context, id int64) {
	if err := c.cache.Del(ctx, profileKey(id)); err != nil {
		c.logger.Warn("profile cache invalidate failed", zap.Int64("char_id", id), zap.Error(err))
	}
	c.next.Invalidate(ctx, id)
}

func encodeProfile(p *Profile) map[string]string {
	f := map[string]string{"name": p.Name, "alliance_tag": p.AllianceTag, "alliance_id": ""}
	if p.AllianceID != nil {
		f["alliance_id"] = strconv.FormatInt(*p.AllianceID, 10)
	}
	return f
}

func decodeProfile(id int64, f map[string]string) (*Profile, bool) {
	name, ok := f["name"]
	if !ok {
		return nil, false
	}
	p := &Profile{ID: id, Name: name, AllianceTag: f["alliance_tag"]}
	if s := strings.TrimSpace(f["alliance_id"]); s != "" {
		aid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, false
		}
		p.AllianceID = &aid
	}
	return p, true
}
