package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/kfsoftware/drivenet/auth"
	"github.com/kfsoftware/drivenet/log"
	"github.com/kfsoftware/drivenet/registry"
	"github.com/kfsoftware/drivenet/store/ledger"
	"github.com/pkg/errors"
)

const (
	apiPrefix        = "/api/v1"
	maxBodyBytes     = 1 << 20
	totalCountHeader = "X-Total-Count"
)

type loginRequest struct {
	EnrollmentUserID string `json:"enrollmentUserId"`
	EnrollmentSecret string `json:"enrollmentSecret"`
}

type createVehicleRequest struct {
	CarNumber string `json:"carNumber"`
	Make      string `json:"make"`
	Model     string `json:"model"`
	Colour    string `json:"colour"`
	Owner     string `json:"owner"`
}

type changeOwnerRequest struct {
	Owner string `json:"owner"`
}

type nextIDResponse struct {
	CarNumber string `json:"carNumber"`
}

func (a *DriveNetAPIServer) registerRoutes(router *mux.Router) {
	api := router.PathPrefix(apiPrefix).Subrouter()

	api.HandleFunc("/healthz", a.healthz).Methods(http.MethodGet)
	api.HandleFunc("/ready", a.ready).Methods(http.MethodGet)
	api.HandleFunc("/login", a.login).Methods(http.MethodPost)
	api.Handle("/refresh-token", a.refreshable(a.refreshToken)).Methods(http.MethodGet)

	api.Handle("/vehicles", a.authenticated(a.networkVehicles)).Methods(http.MethodGet)
	api.Handle("/vehicles", a.authenticated(a.createVehicle)).Methods(http.MethodPost)
	api.Handle("/vehicles/next-id", a.authenticated(a.nextVehicleID)).Methods(http.MethodGet)
	api.Handle("/user/vehicles", a.authenticated(a.callerVehicles)).Methods(http.MethodGet)
	api.Handle("/{user}/vehicles", a.authenticated(a.ownerVehicles)).Methods(http.MethodGet)
	api.Handle("/{vehicle}/history", a.authenticated(a.vehicleHistory)).Methods(http.MethodGet)
	api.Handle("/{vehicle}/owner", a.authenticated(a.changeOwner)).Methods(http.MethodPut)
	api.Handle("/{vehicle}/owner/confirm", a.authenticated(a.confirmOwner)).Methods(http.MethodPut)
	api.Handle("/{vehicle}", a.authenticated(a.deleteVehicle)).Methods(http.MethodDelete)
}

func (a *DriveNetAPIServer) healthz(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

func (a *DriveNetAPIServer) ready(w http.ResponseWriter, r *http.Request) {
	if err := a.Ledger.Ready(r.Context()); err != nil {
		log.Warnf("readiness probe failed: %v", err)
		writeText(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeText(w, http.StatusOK, "ok")
}

func (a *DriveNetAPIServer) login(w http.ResponseWriter, r *http.Request) {
	req := loginRequest{}
	if err := decodeBody(r, &req); err != nil || req.EnrollmentUserID == "" || req.EnrollmentSecret == "" {
		writeText(w, http.StatusBadRequest, "Bad Request")
		return
	}
	walletKey, err := a.Ledger.EnsureIdentity(r.Context(), req.EnrollmentUserID, req.EnrollmentSecret)
	if err != nil {
		a.Metrics.IncLogin(false)
		log.Errorf("login of %s failed: %v", req.EnrollmentUserID, err)
		writeText(w, http.StatusInternalServerError, "Failed to login: "+err.Error())
		return
	}
	token, err := a.Issuer.AccessToken(req.EnrollmentUserID, walletKey)
	if err != nil {
		a.Metrics.IncLogin(false)
		sendExceptionResponse(w, err, "Failed to login")
		return
	}
	refresh, err := a.Issuer.RefreshToken()
	if err != nil {
		a.Metrics.IncLogin(false)
		sendExceptionResponse(w, err, "Failed to login")
		return
	}
	a.Metrics.IncLogin(true)
	http.SetCookie(w, &http.Cookie{
		Name:     auth.RefreshCookieName,
		Value:    refresh,
		Path:     "/",
		MaxAge:   int(a.Issuer.RefreshTTL().Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, token)
}

func (a *DriveNetAPIServer) refreshToken(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	token, err := a.Issuer.AccessToken(user.UserID, user.WalletKey)
	if err != nil {
		sendExceptionResponse(w, err, "Error refreshing token")
		return
	}
	writeJSON(w, token)
}

func (a *DriveNetAPIServer) transactions(r *http.Request) (*registry.Transactions, *auth.Claims) {
	user := userFromContext(r.Context())
	return registry.New(user.WalletKey, a.Ledger), user
}

func (a *DriveNetAPIServer) networkVehicles(w http.ResponseWriter, r *http.Request) {
	query, err := parseQuery(r)
	if err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}
	tx, user := a.transactions(r)
	vehicles, err := tx.AllVehicles(r.Context())
	if err != nil {
		sendExceptionResponse(w, err, "Error retrieving vehicles")
		return
	}
	writePage(w, query.Apply(registry.WithStatus(vehicles, user.UserID)))
}

func (a *DriveNetAPIServer) nextVehicleID(w http.ResponseWriter, r *http.Request) {
	tx, _ := a.transactions(r)
	vehicles, err := tx.AllVehicles(r.Context())
	if err != nil {
		sendExceptionResponse(w, err, "Error retrieving vehicles")
		return
	}
	writeJSON(w, nextIDResponse{CarNumber: registry.NextCarNumber(vehicles)})
}

func (a *DriveNetAPIServer) createVehicle(w http.ResponseWriter, r *http.Request) {
	req := createVehicleRequest{}
	if err := decodeBody(r, &req); err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CarNumber == "" {
		writeText(w, http.StatusBadRequest, "carNumber is required")
		return
	}
	tx, _ := a.transactions(r)
	if err := tx.CreateVehicle(r.Context(), req.CarNumber, req.Make, req.Model, req.Colour, req.Owner); err != nil {
		sendExceptionResponse(w, err, "Error creating car")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *DriveNetAPIServer) callerVehicles(w http.ResponseWriter, r *http.Request) {
	query, err := parseQuery(r)
	if err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}
	tx, user := a.transactions(r)
	vehicles, err := tx.CallerVehicles(r.Context())
	if err != nil {
		sendExceptionResponse(w, err, "Error retrieving caller vehicles")
		return
	}
	writePage(w, query.Apply(registry.WithStatus(vehicles, user.UserID)))
}

func (a *DriveNetAPIServer) ownerVehicles(w http.ResponseWriter, r *http.Request) {
	query, err := parseQuery(r)
	if err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}
	tx, user := a.transactions(r)
	vehicles, err := tx.VehiclesByOwner(r.Context(), mux.Vars(r)["user"])
	if err != nil {
		sendExceptionResponse(w, err, "Error retrieving specific user cars")
		return
	}
	writePage(w, query.Apply(registry.WithStatus(vehicles, user.UserID)))
}

func (a *DriveNetAPIServer) vehicleHistory(w http.ResponseWriter, r *http.Request) {
	tx, _ := a.transactions(r)
	owners, err := tx.PreviousOwners(r.Context(), mux.Vars(r)["vehicle"])
	if err != nil {
		sendExceptionResponse(w, err, "Error retrieving vehicle history")
		return
	}
	writeJSON(w, owners)
}

func (a *DriveNetAPIServer) deleteVehicle(w http.ResponseWriter, r *http.Request) {
	tx, _ := a.transactions(r)
	if err := tx.DeleteVehicle(r.Context(), mux.Vars(r)["vehicle"]); err != nil {
		sendExceptionResponse(w, err, "Error deleting car")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *DriveNetAPIServer) changeOwner(w http.ResponseWriter, r *http.Request) {
	req := changeOwnerRequest{}
	if err := decodeBody(r, &req); err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Owner == "" {
		writeText(w, http.StatusBadRequest, "owner is required")
		return
	}
	tx, _ := a.transactions(r)
	if err := tx.ChangeOwner(r.Context(), mux.Vars(r)["vehicle"], req.Owner); err != nil {
		sendExceptionResponse(w, err, "Error updating vehicle owner")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *DriveNetAPIServer) confirmOwner(w http.ResponseWriter, r *http.Request) {
	tx, _ := a.transactions(r)
	if err := tx.ConfirmOwner(r.Context(), mux.Vars(r)["vehicle"]); err != nil {
		sendExceptionResponse(w, err, "Error confirming ownership")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func parseQuery(r *http.Request) (registry.Query, error) {
	values := r.URL.Query()
	query := registry.Query{
		Owner: values["owner"],
		Sort:  registry.SortField(values.Get("sort")),
	}
	for _, status := range values["status"] {
		query.Status = append(query.Status, registry.VehicleStatus(status))
	}
	if !query.Sort.Valid() {
		return query, errors.Errorf("unknown sort field %q", query.Sort)
	}
	switch values.Get("order") {
	case "", "asc":
	case "desc":
		query.Desc = true
	default:
		return query, errors.Errorf("unknown order %q", values.Get("order"))
	}
	var err error
	if query.Page, err = nonNegativeInt(values.Get("page")); err != nil {
		return query, errors.Wrap(err, "page")
	}
	if query.PageSize, err = nonNegativeInt(values.Get("pageSize")); err != nil {
		return query, errors.Wrap(err, "pageSize")
	}
	return query, nil
}

func nonNegativeInt(value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Errorf("invalid number %q", value)
	}
	if n < 0 {
		return 0, errors.Errorf("%d is negative", n)
	}
	return n, nil
}

func decodeBody(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errors.New("request body is empty")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.Wrap(err, "malformed request body")
	}
	return nil
}

// sendExceptionResponse reports a failed operation. A wallet key that is no
// longer known (e.g. the wallet was reset while the client kept its token)
// answers 410 so the client logs the user out.
func sendExceptionResponse(w http.ResponseWriter, err error, insert string) {
	log.Errorf("%s: %v", insert, err)
	if errors.Is(err, ledger.ErrIdentityNotFound) {
		w.Header().Set("Cache-Control", "no-store")
		writeText(w, http.StatusGone, "Auth error")
		return
	}
	writeText(w, http.StatusInternalServerError, insert+": "+err.Error())
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("failed to write response: %v", err)
	}
}

func writePage(w http.ResponseWriter, page registry.Page) {
	w.Header().Set(totalCountHeader, strconv.Itoa(page.Total))
	writeJSON(w, page.Items)
}
