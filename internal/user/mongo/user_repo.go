// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mongo implements user.Repository on a MongoDB collection.
package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/holomush/authcore/internal/user"
)

// CollectionName is the default collection for user documents.
const CollectionName = "users"

// document is the stored shape of a user. Optional fields are omitted when
// empty so the partial unique indexes only cover documents that carry them.
type document struct {
	ID           string `bson:"_id"`
	Username     string `bson:"username"`
	Email        string `bson:"email"`
	PasswordHash string `bson:"password_hash"`

	EmailVerified              bool       `bson:"email_verified"`
	EmailVerificationToken     string     `bson:"email_verification_token,omitempty"`
	EmailVerificationExpiresAt *time.Time `bson:"email_verification_expires_at,omitempty"`

	PasswordResetToken     string     `bson:"password_reset_token,omitempty"`
	PasswordResetExpiresAt *time.Time `bson:"password_reset_expires_at,omitempty"`

	EmailResetToken     string     `bson:"email_reset_token,omitempty"`
	EmailResetExpiresAt *time.Time `bson:"email_reset_expires_at,omitempty"`
	PendingEmail        string     `bson:"pending_email,omitempty"`

	RefCode    string `bson:"ref_code"`
	RefFrom    string `bson:"ref_from,omitempty"`
	APIKey     string `bson:"api_key"`
	Role       string `bson:"role"`
	Permission string `bson:"permission"`
	Img        string `bson:"img"`
	LastIP     string `bson:"last_ip"`

	UsernameChangedAt *time.Time `bson:"username_changed_at,omitempty"`
	CreatedAt         time.Time  `bson:"created_at"`
	UpdatedAt         time.Time  `bson:"updated_at"`
}

func toDocument(u *user.User) document {
	return document{
		ID:                         u.ID.String(),
		Username:                   u.Username,
		Email:                      u.Email,
		PasswordHash:               u.PasswordHash,
		EmailVerified:              u.EmailVerified,
		EmailVerificationToken:     u.EmailVerificationToken,
		EmailVerificationExpiresAt: u.EmailVerificationExpiresAt,
		PasswordResetToken:         u.PasswordResetToken,
		PasswordResetExpiresAt:     u.PasswordResetExpiresAt,
		EmailResetToken:            u.EmailResetToken,
		EmailResetExpiresAt:        u.EmailResetExpiresAt,
		PendingEmail:               u.PendingEmail,
		RefCode:                    u.RefCode,
		RefFrom:                    u.RefFrom,
		APIKey:                     u.APIKey,
		Role:                       u.Role,
		Permission:                 u.Permission,
		Img:                        u.Img,
		LastIP:                     u.LastIP,
		UsernameChangedAt:          u.UsernameChangedAt,
		CreatedAt:                  u.CreatedAt,
		UpdatedAt:                  u.UpdatedAt,
	}
}

func (d document) toUser() (*user.User, error) {
	id, err := ulid.Parse(d.ID)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").With("id", d.ID).Wrap(err)
	}
	return &user.User{
		ID:                         id,
		Username:                   d.Username,
		Email:                      d.Email,
		PasswordHash:               d.PasswordHash,
		EmailVerified:              d.EmailVerified,
		EmailVerificationToken:     d.EmailVerificationToken,
		EmailVerificationExpiresAt: d.EmailVerificationExpiresAt,
		PasswordResetToken:         d.PasswordResetToken,
		PasswordResetExpiresAt:     d.PasswordResetExpiresAt,
		EmailResetToken:            d.EmailResetToken,
		EmailResetExpiresAt:        d.EmailResetExpiresAt,
		PendingEmail:               d.PendingEmail,
		RefCode:                    d.RefCode,
		RefFrom:                    d.RefFrom,
		APIKey:                     d.APIKey,
		Role:                       d.Role,
		Permission:                 d.Permission,
		Img:                        d.Img,
		LastIP:                     d.LastIP,
		UsernameChangedAt:          d.UsernameChangedAt,
		CreatedAt:                  d.CreatedAt,
		UpdatedAt:                  d.UpdatedAt,
	}, nil
}

// UserRepository implements user.Repository using MongoDB.
type UserRepository struct {
	coll *mongo.Collection
}

// NewUserRepository creates a repository over coll.
func NewUserRepository(coll *mongo.Collection) *UserRepository {
	return &UserRepository{coll: coll}
}

// EnsureIndexes creates the unique indexes that arbitrate concurrent writers.
func (r *UserRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, indexModels())
	if err != nil {
		return oops.Code("USER_INDEX_FAILED").With("collection", r.coll.Name()).Wrap(err)
	}
	return nil
}

func indexModels() []mongo.IndexModel {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true).SetName("username_unique")},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("email_unique")},
		{Keys: bson.D{{Key: "ref_code", Value: 1}}, Options: options.Index().SetUnique(true).SetName("ref_code_unique")},
		{Keys: bson.D{{Key: "api_key", Value: 1}}, Options: options.Index().SetUnique(true).SetName("api_key_unique")},
	}
	for _, field := range []user.Field{
		user.FieldEmailVerificationToken,
		user.FieldPasswordResetToken,
		user.FieldEmailResetToken,
	} {
		name := string(field)
		models = append(models, mongo.IndexModel{
			Keys: bson.D{{Key: name, Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName(name + "_unique").
				SetPartialFilterExpression(bson.D{{Key: name, Value: bson.D{{Key: "$type", Value: "string"}}}}),
		})
	}
	return models
}

// Create inserts a user.
func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	if _, err := r.coll.InsertOne(ctx, toDocument(u)); err != nil {
		return mapWriteError(err, "USER_CREATE_FAILED", "insert user", u)
	}
	return nil
}

// Update replaces the stored document for u.
func (r *UserRepository) Update(ctx context.Context, u *user.User) error {
	res, err := r.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: u.ID.String()}}, toDocument(u))
	if err != nil {
		return mapWriteError(err, "USER_UPDATE_FAILED", "replace user", u)
	}
	if res.MatchedCount == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", u.ID.String()).Wrap(user.ErrNotFound)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*user.User, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id.String()}}, "id", id.String())
}

// GetByUsernameOrEmail matches identifier against username or email.
func (r *UserRepository) GetByUsernameOrEmail(ctx context.Context, identifier string) (*user.User, error) {
	needle := strings.ToLower(identifier)
	return r.findOne(ctx, identifierFilter(needle), "identifier", needle)
}

func identifierFilter(needle string) bson.D {
	return bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "username", Value: needle}},
		bson.D{{Key: "email", Value: needle}},
	}}}
}

// GetByField retrieves a user by equality on a lookup field.
func (r *UserRepository) GetByField(ctx context.Context, field user.Field, value string) (*user.User, error) {
	filter, err := fieldFilter(field, value)
	if err != nil {
		return nil, err
	}
	return r.findOne(ctx, filter, "field", string(field))
}

// Exists reports whether any user has value in field.
func (r *UserRepository) Exists(ctx context.Context, field user.Field, value string) (bool, error) {
	filter, err := fieldFilter(field, value)
	if err != nil {
		return false, err
	}
	n, err := r.coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, oops.Code("USER_EXISTS_FAILED").
			With("operation", "count users").
			With("field", string(field)).
			Wrap(err)
	}
	return n > 0, nil
}

func fieldFilter(field user.Field, value string) (bson.D, error) {
	if !field.Valid() {
		return nil, oops.Code("USER_INVALID_FIELD").With("field", string(field)).Errorf("unsupported lookup field")
	}
	return bson.D{{Key: string(field), Value: value}}, nil
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.D, key, value string) (*user.User, error) {
	var doc document
	err := r.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, oops.Code("USER_NOT_FOUND").With(key, value).Wrap(user.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").With("operation", "find user").With(key, value).Wrap(err)
	}
	return doc.toUser()
}

func mapWriteError(err error, code, operation string, u *user.User) error {
	if mongo.IsDuplicateKeyError(err) {
		return oops.Code("USER_DUPLICATE").With("username", u.Username).Wrap(user.ErrDuplicate)
	}
	return oops.Code(code).With("operation", operation).With("id", u.ID.String()).Wrap(err)
}
