// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package mongo_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/v2/mongo"

	usermongo "github.com/holomush/authcore/internal/user/mongo"
)

var (
	testClient    *mongo.Client
	testContainer *mongodb.MongoDBContainer
)

func TestUserMongo(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "User Mongo Suite")
}

var _ = BeforeSuite(func() {
	ctx := context.Background()

	var err error
	testContainer, err = mongodb.Run(ctx, "mongo:7")
	Expect(err).NotTo(HaveOccurred())

	uri, err := testContainer.ConnectionString(ctx)
	Expect(err).NotTo(HaveOccurred())

	testClient, err = usermongo.Connect(ctx, uri)
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	ctx := context.Background()
	if testClient != nil {
		_ = testClient.Disconnect(ctx)
	}
	if testContainer != nil {
		_ = testContainer.Terminate(ctx)
	}
})
