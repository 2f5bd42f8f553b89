// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package accounts_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/accounts/internal/auth"
	"github.com/holomush/accounts/internal/auth/postgres"
	"github.com/holomush/accounts/internal/httpapi"
	"github.com/holomush/accounts/pkg/errutil"
)

func newManager(opts ...auth.SessionStoreOption) (*auth.Manager, *auth.SessionStore) {
	codec := auth.NewCredentialCodec(auth.WithHashParams(auth.HashParams{Memory: 1024, Iterations: 1, Threads: 1}))
	sessions := auth.NewSessionStore(postgres.NewSessionRepository(pool), auth.NewTokenService(), opts...)
	mgr, err := auth.NewManager(postgres.NewUserRepository(pool), sessions, codec, postgres.NewTransactor(pool),
		auth.WithLogger(slog.New(slog.DiscardHandler)))
	Expect(err).NotTo(HaveOccurred())
	return mgr, sessions
}

func truncate() {
	_, err := pool.Exec(suiteCtx, `TRUNCATE sessions, users`)
	Expect(err).NotTo(HaveOccurred())
}

func codeOf(err error) string {
	return errutil.Code(err)
}

var _ = Describe("Account lifecycle", func() {
	var mgr *auth.Manager

	BeforeEach(func() {
		truncate()
		mgr, _ = newManager()
	})

	It("registers, logs in, changes password and deletes the account", func() {
		user, err := mgr.Register(suiteCtx, "alice", "Sw0rdfish!")
		Expect(err).NotTo(HaveOccurred())
		Expect(user.Username).To(Equal("alice"))

		_, first, err := mgr.Login(suiteCtx, "alice", "Sw0rdfish!")
		Expect(err).NotTo(HaveOccurred())
		_, second, err := mgr.Login(suiteCtx, "ALICE", "Sw0rdfish!")
		Expect(err).NotTo(HaveOccurred())

		sessions, err := mgr.ListSessions(suiteCtx, first)
		Expect(err).NotTo(HaveOccurred())
		Expect(sessions).To(HaveLen(2))

		Expect(mgr.ChangePassword(suiteCtx, first, "Sw0rdfish!", "N3wPass!")).To(Succeed())

		for _, token := range []auth.Token{first, second} {
			_, err := mgr.ValidateSession(suiteCtx, token)
			Expect(codeOf(err)).To(Equal(auth.CodeSessionInvalid))
		}

		_, _, err = mgr.Login(suiteCtx, "alice", "Sw0rdfish!")
		Expect(codeOf(err)).To(Equal(auth.CodeInvalidCredentials))

		_, token, err := mgr.Login(suiteCtx, "alice", "N3wPass!")
		Expect(err).NotTo(HaveOccurred())

		Expect(mgr.DeleteAccount(suiteCtx, token, "N3wPass!")).To(Succeed())

		_, err = mgr.ValidateSession(suiteCtx, token)
		Expect(codeOf(err)).To(Equal(auth.CodeSessionInvalid))
		_, err = mgr.FindUser(suiteCtx, "alice")
		Expect(codeOf(err)).To(Equal(auth.CodeUnknownUser))

		var live int
		Expect(pool.QueryRow(suiteCtx, `SELECT count(*) FROM sessions WHERE revoked_at IS NULL`).Scan(&live)).To(Succeed())
		Expect(live).To(BeZero())
	})

	It("renames a user and frees the old name", func() {
		_, err := mgr.Register(suiteCtx, "alice", "Sw0rdfish!")
		Expect(err).NotTo(HaveOccurred())
		_, token, err := mgr.Login(suiteCtx, "alice", "Sw0rdfish!")
		Expect(err).NotTo(HaveOccurred())

		public, err := mgr.UpdateProfile(suiteCtx, token, auth.ProfilePatch{
			auth.Rename{Username: "Alicia"},
			auth.SetDisplayName{DisplayName: "Alicia A."},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(public.Username).To(Equal("Alicia"))
		Expect(public.DisplayName).To(Equal("Alicia A."))

		_, err = mgr.FindUser(suiteCtx, "alicia")
		Expect(err).NotTo(HaveOccurred())
		_, err = mgr.Register(suiteCtx, "alice", "Sw0rdfish!")
		Expect(err).NotTo(HaveOccurred())
	})

	It("admits exactly one of many concurrent registrations", func() {
		const racers = 6
		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			codes []string
		)
		for range racers {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := mgr.Register(suiteCtx, "racer", "Sw0rdfish!")
				mu.Lock()
				codes = append(codes, codeOf(err))
				mu.Unlock()
			}()
		}
		wg.Wait()

		Expect(codes).To(HaveLen(racers))
		Expect(codes).To(ContainElement(""))
		successes := 0
		for _, code := range codes {
			if code == "" {
				successes++
				continue
			}
			Expect(code).To(Equal(auth.CodeDuplicateUsername))
		}
		Expect(successes).To(Equal(1))
	})
})

var _ = Describe("Session reaping", func() {
	It("purges expired sessions after the grace period", func() {
		truncate()
		now := time.Now().UTC()
		clock := func() time.Time { return now }

		mgr, sessions := newManager(auth.WithSessionTTL(time.Minute), auth.WithReapGrace(0), auth.WithSessionClock(clock))
		_, err := mgr.Register(suiteCtx, "alice", "Sw0rdfish!")
		Expect(err).NotTo(HaveOccurred())
		_, _, err = mgr.Login(suiteCtx, "alice", "Sw0rdfish!")
		Expect(err).NotTo(HaveOccurred())

		n, err := sessions.ReapExpired(suiteCtx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())

		now = now.Add(2 * time.Minute)
		n, err = sessions.ReapExpired(suiteCtx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(1)))
	})
})

var _ = Describe("Concurrent session operations", func() {
	BeforeEach(truncate)

	It("never reports a revoked session as valid while revoke-all runs", func() {
		mgr, sessions := newManager()
		user, err := mgr.Register(suiteCtx, "alice", "Sw0rdfish!")
		Expect(err).NotTo(HaveOccurred())

		var tokens []auth.Token
		for range 10 {
			_, token, err := sessions.Create(suiteCtx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			tokens = append(tokens, token)
		}

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created []auth.Token
		)
		start := make(chan struct{})
		for _, token := range tokens {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				<-start
				for range 10 {
					s, err := sessions.Lookup(suiteCtx, token)
					if err != nil {
						Expect(codeOf(err)).To(Equal(auth.CodeSessionInvalid))
						continue
					}
					Expect(s.ActiveAt(time.Now())).To(BeTrue())
				}
			}()
		}
		for range 4 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				<-start
				_, token, err := sessions.Create(suiteCtx, user.ID)
				Expect(err).NotTo(HaveOccurred())
				mu.Lock()
				created = append(created, token)
				mu.Unlock()
			}()
		}
		wg.Add(1)
		go func() {
			defer GinkgoRecover()
			defer wg.Done()
			<-start
			_, err := sessions.RevokeAllForUser(suiteCtx, user.ID)
			Expect(err).NotTo(HaveOccurred())
		}()

		close(start)
		wg.Wait()

		for _, token := range tokens {
			_, err := sessions.Lookup(suiteCtx, token)
			Expect(codeOf(err)).To(Equal(auth.CodeSessionInvalid))
		}
		active, err := sessions.ListActive(suiteCtx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		valid := 0
		for _, token := range created {
			if _, err := sessions.Lookup(suiteCtx, token); err == nil {
				valid++
			}
		}
		Expect(active).To(HaveLen(valid))
	})

	It("reports sessions being reaped as invalid", func() {
		now := time.Now().UTC()
		var clockMu sync.Mutex
		clock := func() time.Time {
			clockMu.Lock()
			defer clockMu.Unlock()
			return now
		}
		_, sessions := newManager(auth.WithSessionTTL(time.Minute), auth.WithReapGrace(0), auth.WithSessionClock(clock))

		var doomed []auth.Token
		for range 10 {
			_, token, err := sessions.Create(suiteCtx, ulid.Make())
			Expect(err).NotTo(HaveOccurred())
			doomed = append(doomed, token)
		}
		clockMu.Lock()
		now = now.Add(2 * time.Minute)
		clockMu.Unlock()

		var wg sync.WaitGroup
		start := make(chan struct{})
		for _, token := range doomed {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				<-start
				for range 10 {
					_, err := sessions.Lookup(suiteCtx, token)
					Expect(codeOf(err)).To(Equal(auth.CodeSessionInvalid))
				}
			}()
		}
		var reaped int64
		wg.Add(1)
		go func() {
			defer GinkgoRecover()
			defer wg.Done()
			<-start
			n, err := sessions.ReapExpired(suiteCtx)
			Expect(err).NotTo(HaveOccurred())
			reaped = n
		}()

		close(start)
		wg.Wait()
		Expect(reaped).To(Equal(int64(len(doomed))))
	})
})

var _ = Describe("HTTP API", func() {
	var srv *httptest.Server

	BeforeEach(func() {
		truncate()
		mgr, _ := newManager()
		srv = httptest.NewServer(httpapi.New(mgr))
		DeferCleanup(srv.Close)
	})

	post := func(path, body string) *http.Response {
		resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	It("serves registration, login and session validation", func() {
		resp := post("/v1/users", `{"username":"alice","password":"Sw0rdfish!"}`)
		_ = resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		resp = post("/v1/users", `{"username":"Alice","password":"Sw0rdfish!"}`)
		_ = resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusConflict))

		resp = post("/v1/sessions", `{"username":"alice","password":"Sw0rdfish!"}`)
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var login struct {
			Token string `json:"token"`
		}
		Expect(json.Unmarshal(body, &login)).To(Succeed())

		req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/session", nil)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Authorization", "Bearer "+login.Token)
		resp, err = http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		_ = resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})
})
