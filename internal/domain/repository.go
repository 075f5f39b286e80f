package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type codeCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) *mongo.SingleResult
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

type grantCollection interface {
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// CodeRepository persists promo codes in MongoDB. Redemption is a single
// findOneAndUpdate so that a code is consumed at most once across instances.
type CodeRepository struct {
	collection codeCollection
}

// NewCodeRepository constructs a CodeRepository.
func NewCodeRepository(collection codeCollection) *CodeRepository {
	return &CodeRepository{collection: collection}
}

// InsertCode stores a new code, returning ErrCodeExists on a duplicate key.
func (r *CodeRepository) InsertCode(ctx context.Context, code PromoCode) error {
	if r == nil || r.collection == nil {
		return errors.New("code repository is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if code.Code == "" {
		return errors.New("code is required")
	}

	if _, err := r.collection.InsertOne(ctx, code); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrCodeExists
		}
		return fmt.Errorf("insert code: %w", err)
	}

	return nil
}

// ConsumeCode atomically marks an unconsumed, unexpired code as used by
// userID. When nothing matches, the stored document is inspected to report
// ErrCodeNotFound, ErrCodeConsumed or ErrCodeExpired.
func (r *CodeRepository) ConsumeCode(ctx context.Context, code string, userID int64, now time.Time) (PromoCode, error) {
	if r == nil || r.collection == nil {
		return PromoCode{}, errors.New("code repository is not initialized")
	}
	if ctx == nil {
		return PromoCode{}, errors.New("context is required")
	}

	now = now.UTC().Truncate(time.Millisecond)
	result := r.collection.FindOneAndUpdate(ctx,
		bson.M{
			"code":       code,
			"consumed":   false,
			"expires_at": bson.M{"$gt": now},
		},
		bson.M{"$set": bson.M{
			"consumed":    true,
			"consumed_by": userID,
			"consumed_at": now,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	if result == nil {
		return PromoCode{}, errors.New("consume code returned no result")
	}

	err := result.Err()
	if err == nil {
		var consumed PromoCode
		if err := result.Decode(&consumed); err != nil {
			return PromoCode{}, fmt.Errorf("decode code: %w", err)
		}
		return consumed, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return PromoCode{}, fmt.Errorf("consume code: %w", err)
	}

	existing, err := r.find(ctx, code)
	if err != nil {
		return PromoCode{}, err
	}
	if existing.Consumed {
		return existing, ErrCodeConsumed
	}
	return existing, ErrCodeExpired
}

// CountCodes returns the number of registered codes.
func (r *CodeRepository) CountCodes(ctx context.Context) (int64, error) {
	if r == nil || r.collection == nil {
		return 0, errors.New("code repository is not initialized")
	}
	if ctx == nil {
		return 0, errors.New("context is required")
	}

	count, err := r.collection.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count codes: %w", err)
	}
	return count, nil
}

func (r *CodeRepository) find(ctx context.Context, code string) (PromoCode, error) {
	if r == nil || r.collection == nil {
		return PromoCode{}, errors.New("code repository is not initialized")
	}
	if ctx == nil {
		return PromoCode{}, errors.New("context is required")
	}

	result := r.collection.FindOne(ctx, bson.M{"code": code})
	if result == nil {
		return PromoCode{}, errors.New("find code returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return PromoCode{}, ErrCodeNotFound
		}
		return PromoCode{}, fmt.Errorf("find code: %w", err)
	}

	var found PromoCode
	if err := result.Decode(&found); err != nil {
		return PromoCode{}, fmt.Errorf("decode code: %w", err)
	}
	return found, nil
}

// GrantRepository persists access grants in MongoDB, one document per user.
type GrantRepository struct {
	collection grantCollection
}

// NewGrantRepository constructs a GrantRepository.
func NewGrantRepository(collection grantCollection) *GrantRepository {
	return &GrantRepository{collection: collection}
}

// SaveGrant upserts the grant for grant.UserID.
func (r *GrantRepository) SaveGrant(ctx context.Context, grant AccessGrant) error {
	if r == nil || r.collection == nil {
		return errors.New("grant repository is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if grant.UserID == 0 {
		return errors.New("user_id is required")
	}

	if _, err := r.collection.ReplaceOne(ctx,
		bson.M{"user_id": grant.UserID},
		grant,
		options.Replace().SetUpsert(true),
	); err != nil {
		return fmt.Errorf("save grant: %w", err)
	}

	return nil
}

// FindGrant fetches the grant for userID or ErrGrantNotFound.
func (r *GrantRepository) FindGrant(ctx context.Context, userID int64) (AccessGrant, error) {
	if r == nil || r.collection == nil {
		return AccessGrant{}, errors.New("grant repository is not initialized")
	}
	if ctx == nil {
		return AccessGrant{}, errors.New("context is required")
	}

	result := r.collection.FindOne(ctx, bson.M{"user_id": userID})
	if result == nil {
		return AccessGrant{}, errors.New("find grant returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return AccessGrant{}, ErrGrantNotFound
		}
		return AccessGrant{}, fmt.Errorf("find grant: %w", err)
	}

	var grant AccessGrant
	if err := result.Decode(&grant); err != nil {
		return AccessGrant{}, fmt.Errorf("decode grant: %w", err)
	}
	return grant, nil
}

// SaveSessionGrant upserts a time-boxed grant unless a permanent grant is
// stored. The filter excludes permanent documents, so the upsert collides with
// the unique user_id index instead of overwriting one; that collision is read
// back as the grant in effect.
func (r *GrantRepository) SaveSessionGrant(ctx context.Context, grant AccessGrant) (AccessGrant, error) {
	if r == nil || r.collection == nil {
		return AccessGrant{}, errors.New("grant repository is not initialized")
	}
	if ctx == nil {
		return AccessGrant{}, errors.New("context is required")
	}
	if grant.UserID == 0 {
		return AccessGrant{}, errors.New("user_id is required")
	}

	filter := bson.M{
		"user_id": grant.UserID,
		"kind":    bson.M{"$ne": GrantPermanent},
	}

	for attempt := 0; attempt < 2; attempt++ {
		_, err := r.collection.ReplaceOne(ctx, filter, grant, options.Replace().SetUpsert(true))
		if err == nil {
			return grant, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return AccessGrant{}, fmt.Errorf("save session grant: %w", err)
		}

		existing, findErr := r.FindGrant(ctx, grant.UserID)
		if findErr == nil && existing.Kind == GrantPermanent {
			return existing, nil
		}
		if findErr != nil && !errors.Is(findErr, ErrGrantNotFound) {
			return AccessGrant{}, findErr
		}
		// A concurrent session upsert won the insert; the retry replaces it.
	}

	return AccessGrant{}, errors.New("save session grant: concurrent upserts did not settle")
}

// DeleteExpiredGrant removes the grant for userID only while it is a
// time-boxed grant expired at now.
func (r *GrantRepository) DeleteExpiredGrant(ctx context.Context, userID int64, now time.Time) (bool, error) {
	if r == nil || r.collection == nil {
		return false, errors.New("grant repository is not initialized")
	}
	if ctx == nil {
		return false, errors.New("context is required")
	}

	result, err := r.collection.DeleteOne(ctx, bson.M{
		"user_id":    userID,
		"kind":       GrantTimeBoxed,
		"expires_at": bson.M{"$lte": now},
	})
	if err != nil {
		return false, fmt.Errorf("delete expired grant: %w", err)
	}
	return result != nil && result.DeletedCount > 0, nil
}

// CountGrants returns the number of grants valid at now.
func (r *GrantRepository) CountGrants(ctx context.Context, now time.Time) (int64, error) {
	if r == nil || r.collection == nil {
		return 0, errors.New("grant repository is not initialized")
	}
	if ctx == nil {
		return 0, errors.New("context is required")
	}

	count, err := r.collection.CountDocuments(ctx, bson.M{
		"$or": bson.A{
			bson.M{"kind": GrantPermanent},
			bson.M{"expires_at": bson.M{"$gt": now}},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("count grants: %w", err)
	}
	return count, nil
}
