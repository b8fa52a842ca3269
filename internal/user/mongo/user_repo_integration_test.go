// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package mongo_test

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/authcore/internal/user"
	usermongo "github.com/holomush/authcore/internal/user/mongo"
)

func newUser(username string) *user.User {
	now := time.Now().UTC().Truncate(time.Millisecond)
	id := ulid.Make()
	return &user.User{
		ID:           id,
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash",
		RefCode:      id.String()[20:],
		APIKey:       "authcore_" + id.String(),
		Role:         "user",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

var _ = Describe("UserRepository", func() {
	var (
		ctx  context.Context
		repo *usermongo.UserRepository
	)

	BeforeEach(func() {
		ctx = context.Background()
		coll := testClient.Database("authcore_test").Collection(usermongo.CollectionName)
		Expect(coll.Drop(ctx)).To(Succeed())
		repo = usermongo.NewUserRepository(coll)
		Expect(repo.EnsureIndexes(ctx)).To(Succeed())
	})

	It("stores and finds users by identifier and field", func() {
		u := newUser("alice")
		u.SetEmailVerificationToken("verify", time.Now().Add(24*time.Hour))
		Expect(repo.Create(ctx, u)).To(Succeed())

		got, err := repo.GetByUsernameOrEmail(ctx, "Alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal(u.ID))

		got, err = repo.GetByField(ctx, user.FieldEmailVerificationToken, "verify")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Email).To(Equal("alice@example.com"))

		exists, err := repo.Exists(ctx, user.FieldRefCode, u.RefCode)
		Expect(err).NotTo(HaveOccurred())
		Expect(exists).To(BeTrue())
	})

	It("maps unique index violations to ErrDuplicate", func() {
		Expect(repo.Create(ctx, newUser("bob"))).To(Succeed())

		dup := newUser("bob")
		dup.Email = "bob2@example.com"
		Expect(repo.Create(ctx, dup)).To(MatchError(user.ErrDuplicate))
	})

	It("allows many users without pending tokens", func() {
		Expect(repo.Create(ctx, newUser("carol"))).To(Succeed())
		Expect(repo.Create(ctx, newUser("dave"))).To(Succeed())
	})

	It("replaces and reports missing documents", func() {
		u := newUser("erin")
		Expect(repo.Create(ctx, u)).To(Succeed())

		u.EmailVerified = true
		Expect(repo.Update(ctx, u)).To(Succeed())
		got, err := repo.GetByID(ctx, u.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.EmailVerified).To(BeTrue())

		Expect(repo.Update(ctx, newUser("ghost"))).To(MatchError(user.ErrNotFound))
		_, err = repo.GetByID(ctx, ulid.Make())
		Expect(err).To(MatchError(user.ErrNotFound))
	})
})
