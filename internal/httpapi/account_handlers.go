package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"stexcore.dev/hub/internal/accounts"
)

func (a *API) listAccounts(w http.ResponseWriter, r *http.Request) {
	list, err := a.accounts.ListAccounts(r.Context())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "Retrieved all accounts!", list)
}

func (a *API) createAccount(w http.ResponseWriter, r *http.Request) {
	var in accounts.CreateInput
	if !decodeBody(w, r, &in) {
		return
	}
	acc, err := a.accounts.CreateAccount(r.Context(), in)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	a.audit(r.Context(), "account.create", map[string]any{
		"target_account_id": acc.ID,
		"entity_id":         acc.EntityID,
		"role_id":           acc.RoleID,
	})
	w.Header().Set("Location", "/v1/accounts/"+strconv.FormatInt(acc.ID, 10))
	writeData(w, http.StatusCreated, "Account created!", acc)
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	acc, err := a.accounts.GetAccount(r.Context(), id)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "Retrieved account!", acc)
}

func (a *API) updateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in accounts.UpdateInput
	if !decodeBody(w, r, &in) {
		return
	}
	changed, err := a.accounts.UpdateAccount(r.Context(), id, in)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if changed == 0 {
		writeData(w, http.StatusOK, "No changes applied", map[string]int{"changed": 0})
		return
	}
	a.audit(r.Context(), "account.update", map[string]any{
		"target_account_id": id,
		"password_changed":  in.Password != nil,
	})
	writeData(w, http.StatusOK, "Account updated!", map[string]int{"changed": changed})
}

func (a *API) deleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	n, err := a.accounts.DeleteAccount(r.Context(), id)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if n == 0 {
		writeError(w, r, http.StatusNotFound, "not_found", fmt.Sprintf("Account '%d' not found!", id), nil)
		return
	}
	a.audit(r.Context(), "account.delete", map[string]any{"target_account_id": id})
	writeData(w, http.StatusOK, "Account deleted!", nil)
}
