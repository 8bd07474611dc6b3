package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"stexcore.dev/hub/internal/entities"
)

func (a *API) listEntities(w http.ResponseWriter, r *http.Request) {
	list, err := a.entities.ListEntities(r.Context())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "Retrieved all entities!", list)
}

func (a *API) createEntity(w http.ResponseWriter, r *http.Request) {
	var in entities.Input
	if !decodeBody(w, r, &in) {
		return
	}
	ent, err := a.entities.CreateEntity(r.Context(), in)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	a.audit(r.Context(), "entity.create", map[string]any{
		"entity_id":   ent.ID,
		"national_id": ent.NationalityType + "-" + ent.NationalID,
	})
	w.Header().Set("Location", "/v1/entities/"+strconv.FormatInt(ent.ID, 10))
	writeData(w, http.StatusCreated, "Entity created!", ent)
}

func (a *API) searchEntities(w http.ResponseWriter, r *http.Request) {
	list, err := a.entities.SearchEntitiesByDNI(r.Context(), chi.URLParam(r, "search"))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	noun := "entities"
	if len(list) == 1 {
		noun = "entity"
	}
	writeData(w, http.StatusOK, fmt.Sprintf("%d %s found!", len(list), noun), list)
}

func (a *API) getEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ent, err := a.entities.GetEntity(r.Context(), id)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "Retrieved entity!", ent)
}

func (a *API) updateEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in entities.Input
	if !decodeBody(w, r, &in) {
		return
	}
	changed, err := a.entities.UpdateEntity(r.Context(), id, in)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if changed == 0 {
		writeData(w, http.StatusOK, "No changes applied", map[string]int{"changed": 0})
		return
	}
	a.audit(r.Context(), "entity.update", map[string]any{"entity_id": id})
	writeData(w, http.StatusOK, "Entity updated!", map[string]int{"changed": changed})
}

func (a *API) deleteEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	deleted, err := a.entities.DeleteEntity(r.Context(), id)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if !deleted {
		writeError(w, r, http.StatusNotFound, "not_found", fmt.Sprintf("Entity '%d' not found!", id), nil)
		return
	}
	a.audit(r.Context(), "entity.delete", map[string]any{"entity_id": id})
	writeData(w, http.StatusOK, "Entity deleted!", nil)
}
