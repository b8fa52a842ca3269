// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package postgres_test

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/authcore/internal/user"
	"github.com/holomush/authcore/internal/user/postgres"
)

func newUser(username string) *user.User {
	now := time.Now().UTC().Truncate(time.Microsecond)
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
		repo *postgres.UserRepository
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = postgres.NewUserRepository(testPool)
		_, err := testPool.Exec(ctx, `DELETE FROM users`)
		Expect(err).NotTo(HaveOccurred())
	})

	It("round-trips a user with a pending reset token", func() {
		u := newUser("alice")
		u.SetPasswordResetToken("resettoken", time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond))
		Expect(repo.Create(ctx, u)).To(Succeed())

		got, err := repo.GetByField(ctx, user.FieldPasswordResetToken, "resettoken")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal(u.ID))
		Expect(got.PasswordResetExpiresAt).NotTo(BeNil())

		byIdent, err := repo.GetByUsernameOrEmail(ctx, "ALICE@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(byIdent.ID).To(Equal(u.ID))
	})

	It("rejects a second user with the same username", func() {
		Expect(repo.Create(ctx, newUser("bob"))).To(Succeed())

		dup := newUser("bob")
		dup.Email = "other@example.com"
		err := repo.Create(ctx, dup)
		Expect(err).To(MatchError(user.ErrDuplicate))
	})

	It("enforces token and expiry pairing", func() {
		u := newUser("carol")
		u.PasswordResetToken = "orphan"
		Expect(repo.Create(ctx, u)).NotTo(Succeed())
	})

	It("updates and clears tokens", func() {
		u := newUser("dave")
		u.SetEmailVerificationToken("verifytoken", time.Now().UTC().Add(24*time.Hour))
		Expect(repo.Create(ctx, u)).To(Succeed())

		u.ClearEmailVerificationToken()
		u.EmailVerified = true
		Expect(repo.Update(ctx, u)).To(Succeed())

		exists, err := repo.Exists(ctx, user.FieldEmailVerificationToken, "verifytoken")
		Expect(err).NotTo(HaveOccurred())
		Expect(exists).To(BeFalse())

		got, err := repo.GetByID(ctx, u.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.EmailVerified).To(BeTrue())
	})

	It("reports missing users", func() {
		_, err := repo.GetByID(ctx, ulid.Make())
		Expect(err).To(MatchError(user.ErrNotFound))
	})
})
