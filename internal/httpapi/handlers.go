package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"petshop/backend/internal/apperr"
	"petshop/backend/internal/domain"
	"petshop/backend/internal/service"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleCSRFToken returns a stateless token valid for the current hour bucket.
// Cookie-authenticated mutations send it back in X-CSRF-Token.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	resp, expiresAt, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.log.Warn(a.log.WithField(r.Context(), "username", normalizeUsername(req.Username)), "login failed")
		a.writeError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    resp.AccessToken,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"message": "logged out"})
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req domain.SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	user, err := a.auth.Signup(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.log.Info(a.log.WithField(r.Context(), "created_user", user.Username), "user created")
	writeJSON(w, http.StatusCreated, map[string]any{"message": "user created", "user": user})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.auth.ListUsers(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleDeleteUsers(w http.ResponseWriter, r *http.Request) {
	usernames, err := decodeKeys(r, "usernames")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	actor, _ := service.ActorFromContext(r.Context())
	deleted, err := a.auth.DeleteUsers(r.Context(), actor, usernames)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      fmt.Sprintf("%d users deleted", deleted),
		"deletedCount": deleted,
	})
}

func (a *API) handleListInventory(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.ListInventory(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inventory": items})
}

func (a *API) handleCreateInventory(w http.ResponseWriter, r *http.Request) {
	reqs, err := decodeBatch[domain.InventoryItemCreateRequest](r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	items, err := a.service.CreateInventoryItems(r.Context(), reqs)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "inventory items created", "inventory": items})
}

func (a *API) handleUpdateInventory(w http.ResponseWriter, r *http.Request) {
	updates, err := decodeBatch[domain.InventoryItemUpdate](r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	items, err := a.service.UpdateInventoryItems(r.Context(), updates)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "inventory items updated", "inventory": items})
}

func (a *API) handleDeleteInventory(w http.ResponseWriter, r *http.Request) {
	var req domain.InventoryDeleteRequest
	if id := strings.TrimSpace(r.URL.Query().Get("productId")); id != "" {
		req.ProductID = id
	} else if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.service.DeleteInventoryItem(r.Context(), req); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "inventory item deleted", "productId": req.ProductID})
}

func (a *API) handleRecordSales(w http.ResponseWriter, r *http.Request) {
	entries, err := decodeBatch[domain.SaleEntry](r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	result, err := a.service.RecordSales(r.Context(), entries)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleModifySales(w http.ResponseWriter, r *http.Request) {
	revisions, err := decodeBatch[domain.SaleRevision](r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	result, err := a.service.ModifySales(r.Context(), revisions)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleDeleteSales(w http.ResponseWriter, r *http.Request) {
	ids, err := decodeKeys(r, "ids")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	result, err := a.service.DeleteSales(r.Context(), ids)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleDeleteAllSales(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.DeleteAllSales(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleQuerySales(w http.ResponseWriter, r *http.Request) {
	filter, err := saleFilterFromQuery(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	sales, err := a.service.QuerySales(r.Context(), filter)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleSalesReport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	switch format {
	case "", "json", "csv", "html", "xlsx":
	default:
		a.writeError(w, r, apperr.Validation("invalid format").WithDetails(map[string]string{"format": "must be one of [json csv html xlsx]"}))
		return
	}

	filter, err := saleFilterFromQuery(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	report, err := a.service.SalesReport(r.Context(), filter)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	name := reportFileName(report)
	switch format {
	case "csv":
		body, err := reportToCSV(report)
		if err != nil {
			a.writeError(w, r, apperr.Store(err, "failed to render report"))
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".csv"))
		_, _ = w.Write(body)
	case "html":
		body, err := reportToHTML(report)
		if err != nil {
			a.writeError(w, r, apperr.Store(err, "failed to render report"))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(body)
	case "xlsx":
		body, err := reportToXLSX(report)
		if err != nil {
			a.writeError(w, r, apperr.Store(err, "failed to render report"))
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".xlsx"))
		_, _ = w.Write(body)
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func saleFilterFromQuery(r *http.Request) (domain.SaleFilter, error) {
	q := r.URL.Query()
	filter := domain.SaleFilter{
		ID:          strings.TrimSpace(q.Get("id")),
		From:        strings.TrimSpace(q.Get("from")),
		To:          strings.TrimSpace(q.Get("to")),
		Brand:       strings.TrimSpace(q.Get("brand")),
		Category:    strings.TrimSpace(q.Get("category")),
		ProductName: strings.TrimSpace(q.Get("productName")),
	}
	if raw := strings.TrimSpace(q.Get("all")); raw != "" {
		all, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, apperr.Validation("invalid filter").WithDetails(map[string]string{"all": "must be true or false"})
		}
		filter.All = all
	}
	return filter, nil
}
