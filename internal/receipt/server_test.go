package receipt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

// mockTokenIssuer is a mock implementation of TokenIssuer
type mockTokenIssuer struct {
	token    string
	issueErr error
	userIDs  []string
}

func (m *mockTokenIssuer) IssueTemporaryAccessToken(ctx context.Context, userID string) (string, error) {
	m.userIDs = append(m.userIDs, userID)
	if m.issueErr != nil {
		return "", m.issueErr
	}
	return m.token, nil
}

// newUploadRequest builds a multipart POST with one "file" part.
func newUploadRequest(url, filename, contentType string, data []byte) *http.Request {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())

	req, err := http.NewRequest("POST", url, &body)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		gateway     *mockGateway
		dispatcher  *mockDispatcher
		ents        *mockEntitlements
		tokens      *mockTokenIssuer
		server      *Server
		httpServer  *httptest.Server
		ghttpServer *ghttp.Server
		client      *http.Client
	)

	BeforeEach(func() {
		db = newMockDB()
		gateway = newMockGateway()
		dispatcher = &mockDispatcher{}
		ents = &mockEntitlements{enabled: true}
		tokens = &mockTokenIssuer{token: "temp-token-1"}

		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest("PUT", "/upload"),
			ghttp.RespondWith(http.StatusOK, ""),
		))
		gateway.target = &UploadTarget{URL: ghttpServer.URL() + "/upload", FileID: "blob-1"}

		service := NewService(db, gateway, dispatcher, ents)
		server = NewServerWithMux(service, tokens, ents, BasicAuth{}, http.NewServeMux())
		server.watchInterval = 10 * time.Millisecond
		httpServer = httptest.NewServer(server)
		client = httpServer.Client()
	})

	AfterEach(func() {
		httpServer.Close()
		ghttpServer.Close()
	})

	get := func(path, user string) *http.Response {
		req, err := http.NewRequest("GET", httpServer.URL+path, nil)
		Expect(err).NotTo(HaveOccurred())
		if user != "" {
			req.SetBasicAuth(user, "")
		}
		resp, err := client.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	Describe("GET /", func() {
		It("should serve the HTML interface", func() {
			resp := get("/", "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(ContainSubstring("text/html"))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("dropzone"))
		})
	})

	Describe("POST /api/receipts", func() {
		When("the request is unauthenticated", func() {
			It("should answer with the uniform result, not a bare error", func() {
				req := newUploadRequest(httpServer.URL+"/api/receipts", "groceries.pdf", "application/pdf", []byte("%PDF-1.4"))
				resp, err := client.Do(req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				var result UploadResult
				Expect(json.NewDecoder(resp.Body).Decode(&result)).To(Succeed())
				Expect(result.Success).To(BeFalse())
				Expect(result.Error).To(Equal("Unauthorized"))
			})
		})

		When("the request is authenticated", func() {
			It("should create the receipt and return 201", func() {
				req := newUploadRequest(httpServer.URL+"/api/receipts", "groceries.pdf", "application/pdf", []byte("%PDF-1.4"))
				req.SetBasicAuth("alice", "")
				resp, err := client.Do(req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				var result UploadResult
				Expect(json.NewDecoder(resp.Body).Decode(&result)).To(Succeed())
				Expect(result.Success).To(BeTrue())
				Expect(result.Data.FileName).To(Equal("groceries.pdf"))

				stored := db.receipts[result.Data.ReceiptID]
				Expect(stored).NotTo(BeNil())
				Expect(stored.OwnerID).To(Equal("alice"))
				Expect(stored.Status).To(Equal(StatusPending))
			})
		})

		When("the file is not a PDF", func() {
			It("should return 400 with the rejection message", func() {
				req := newUploadRequest(httpServer.URL+"/api/receipts", "notes.txt", "text/plain", []byte("hello"))
				req.SetBasicAuth("alice", "")
				resp, err := client.Do(req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				var result UploadResult
				Expect(json.NewDecoder(resp.Body).Decode(&result)).To(Succeed())
				Expect(result.Error).To(Equal("Only PDF files are allowed"))
			})
		})

		When("the scans feature is disabled", func() {
			BeforeEach(func() {
				ents.enabled = false
			})

			It("should return 403", func() {
				req := newUploadRequest(httpServer.URL+"/api/receipts", "groceries.pdf", "application/pdf", []byte("%PDF-1.4"))
				req.SetBasicAuth("alice", "")
				resp, err := client.Do(req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
			})
		})
	})

	Describe("GET /api/receipts", func() {
		BeforeEach(func() {
			db.receipts["r1"] = &Receipt{ID: "r1", OwnerID: "alice", Size: 1536}
			db.receipts["r2"] = &Receipt{ID: "r2", OwnerID: "bob"}
		})

		It("should require authentication", func() {
			resp := get("/api/receipts", "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("should return only the caller's receipts with display sizes", func() {
			resp := get("/api/receipts", "alice")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var views []map[string]any
			Expect(json.NewDecoder(resp.Body).Decode(&views)).To(Succeed())
			Expect(views).To(HaveLen(1))
			Expect(views[0]["id"]).To(Equal("r1"))
			Expect(views[0]["sizeDisplay"]).To(Equal("1.5 KB"))
		})
	})

	Describe("GET /api/receipts/{id}", func() {
		BeforeEach(func() {
			db.receipts["r1"] = &Receipt{ID: "r1", OwnerID: "alice"}
		})

		It("should return the receipt to its owner", func() {
			resp := get("/api/receipts/r1", "alice")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should hide another owner's receipt behind 404", func() {
			resp := get("/api/receipts/r1", "bob")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /api/receipts/{id}/file", func() {
		BeforeEach(func() {
			db.receipts["r1"] = &Receipt{ID: "r1", OwnerID: "alice", FileID: "blob-1", MimeType: "application/pdf"}
			gateway.files["blob-1"] = []byte("%PDF-1.4 fake")
			gateway.contentType = "application/pdf"
		})

		It("should stream the stored blob", func() {
			resp := get("/api/receipts/r1/file", "alice")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/pdf"))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(Equal([]byte("%PDF-1.4 fake")))
		})
	})

	Describe("GET /api/receipts/watch", func() {
		BeforeEach(func() {
			db.receipts["r1"] = &Receipt{ID: "r1", OwnerID: "alice"}
		})

		It("should require authentication", func() {
			resp := get("/api/receipts/watch", "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should send the current list as the first event", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, "GET", httpServer.URL+"/api/receipts/watch", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("alice", "")

			resp, err := client.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))

			reader := bufio.NewReader(resp.Body)
			line, err := reader.ReadString('\n')
			Expect(err).NotTo(HaveOccurred())
			Expect(line).To(HavePrefix("data: "))

			var views []map[string]any
			payload := strings.TrimPrefix(strings.TrimSpace(line), "data: ")
			Expect(json.Unmarshal([]byte(payload), &views)).To(Succeed())
			Expect(views).To(HaveLen(1))
			Expect(views[0]["id"]).To(Equal("r1"))
		})
	})

	Describe("GET /api/session", func() {
		It("should report an anonymous session without features", func() {
			resp := get("/api/session", "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var session sessionResponse
			Expect(json.NewDecoder(resp.Body).Decode(&session)).To(Succeed())
			Expect(session.Authenticated).To(BeFalse())
			Expect(session.Features).To(BeEmpty())
		})

		It("should report the caller's identity and feature gates", func() {
			resp := get("/api/session", "alice")
			defer resp.Body.Close()

			var session sessionResponse
			Expect(json.NewDecoder(resp.Body).Decode(&session)).To(Succeed())
			Expect(session.Authenticated).To(BeTrue())
			Expect(session.UserID).To(Equal("alice"))
			Expect(session.Features).To(HaveKeyWithValue("scans", true))
		})

		When("the scans feature is disabled", func() {
			BeforeEach(func() {
				ents.enabled = false
			})

			It("should gate the feature off", func() {
				resp := get("/api/session", "alice")
				defer resp.Body.Close()

				var session sessionResponse
				Expect(json.NewDecoder(resp.Body).Decode(&session)).To(Succeed())
				Expect(session.Features).To(HaveKeyWithValue("scans", false))
			})
		})

		When("the entitlement check fails", func() {
			BeforeEach(func() {
				ents.checkErr = errors.New("entitlement service down")
			})

			It("should gate the feature off rather than fail the request", func() {
				resp := get("/api/session", "alice")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var session sessionResponse
				Expect(json.NewDecoder(resp.Body).Decode(&session)).To(Succeed())
				Expect(session.Features).To(HaveKeyWithValue("scans", false))
			})
		})
	})

	Describe("POST /api/entitlement/token", func() {
		post := func(user string) *http.Response {
			req, err := http.NewRequest("POST", httpServer.URL+"/api/entitlement/token", nil)
			Expect(err).NotTo(HaveOccurred())
			if user != "" {
				req.SetBasicAuth(user, "")
			}
			resp, err := client.Do(req)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		It("should return a JSON null for an anonymous caller", func() {
			resp := post("")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.TrimSpace(string(body))).To(Equal("null"))
			Expect(tokens.userIDs).To(BeEmpty())
		})

		It("should issue a token scoped to the caller", func() {
			resp := post("alice")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var token tokenResponse
			Expect(json.NewDecoder(resp.Body).Decode(&token)).To(Succeed())
			Expect(token.Token).To(Equal("temp-token-1"))
			Expect(tokens.userIDs).To(ConsistOf("alice"))
		})

		When("the issuer fails", func() {
			BeforeEach(func() {
				tokens.issueErr = errors.New("entitlement service down")
			})

			It("should return 500", func() {
				resp := post("alice")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})
	})

	Describe("configured credentials", func() {
		BeforeEach(func() {
			service := NewService(db, gateway, dispatcher, nil)
			server = NewServerWithMux(service, nil, nil, BasicAuth{Username: "admin", Password: "secret"}, http.NewServeMux())
			httpServer.Close()
			httpServer = httptest.NewServer(server)
			client = httpServer.Client()
		})

		It("should reject wrong credentials", func() {
			req, err := http.NewRequest("GET", httpServer.URL+"/api/receipts", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "wrong")
			resp, err := client.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should accept matching credentials", func() {
			req, err := http.NewRequest("GET", httpServer.URL+"/api/receipts", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "secret")
			resp, err := client.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
