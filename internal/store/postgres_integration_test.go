// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/accounts/internal/store"
)

var _ = Describe("Store", Ordered, func() {
	Describe("Open", func() {
		It("connects and pings the database", func() {
			pool, err := store.Open(ctx, store.PoolConfig{URL: connStr, MaxConns: 2, ConnectAttempts: 3})
			Expect(err).NotTo(HaveOccurred())
			defer pool.Close()

			Expect(pool.Config().MaxConns).To(Equal(int32(2)))
		})

		It("rejects an unparsable url", func() {
			_, err := store.Open(ctx, store.PoolConfig{URL: "::not a url::"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Migrator", func() {
		It("runs a full up, step and down cycle", func() {
			migrator, err := store.NewMigrator(connStr)
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = migrator.Close() }()

			version, dirty, err := migrator.Version()
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(BeZero())
			Expect(dirty).To(BeFalse())

			Expect(migrator.Up()).To(Succeed())
			status, err := migrator.Status()
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Current).To(Equal(uint(2)))
			Expect(status.Pending).To(BeEmpty())

			Expect(migrator.Steps(-1)).To(Succeed())
			version, _, err = migrator.Version()
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(Equal(uint(1)))

			Expect(migrator.Steps(1)).To(Succeed())
			Expect(migrator.Up()).To(Succeed(), "re-running Up is a no-op")

			Expect(migrator.Down()).To(Succeed())
			version, _, err = migrator.Version()
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(BeZero())
		})

		It("creates the case-insensitive username index", func() {
			migrator, err := store.NewMigrator(connStr)
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = migrator.Close() }()
			Expect(migrator.Up()).To(Succeed())

			pool, err := store.Open(ctx, store.PoolConfig{URL: connStr})
			Expect(err).NotTo(HaveOccurred())
			defer pool.Close()

			_, err = pool.Exec(ctx, `INSERT INTO users (id, username, password_hash) VALUES ('a', 'Alice', 'x')`)
			Expect(err).NotTo(HaveOccurred())
			_, err = pool.Exec(ctx, `INSERT INTO users (id, username, password_hash) VALUES ('b', 'alice', 'x')`)
			Expect(err).To(HaveOccurred())

			_, err = pool.Exec(ctx, `INSERT INTO users (id, username, password_hash) VALUES ('c', 'bob', '')`)
			Expect(err).To(HaveOccurred(), "empty password hash violates check constraint")
		})
	})
})
