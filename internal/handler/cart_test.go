package handler_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/kiwari-pos/tableorder/internal/cart"
	"github.com/kiwari-pos/tableorder/internal/handler"
	"github.com/kiwari-pos/tableorder/internal/order"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The cart handlers run against the real cart service on the memory store.
func newCartRouter(t *testing.T) (*chi.Mux, *cart.Service) {
	t.Helper()
	svc := cart.NewService(cart.NewMemoryStore())
	h := handler.NewCartHandler(svc, quietLogger())
	return tableRouter(testDiner, "/cart", h.RegisterRoutes), svc
}

func dinerCart() cart.ID {
	return cart.ID{TableID: testTable, DinerID: testDiner.ParticipantID}
}

func TestCart_AddAndGet(t *testing.T) {
	router, _ := newCartRouter(t)

	rr := doRequest(t, router, http.MethodPost, "/tables/"+testTable+"/cart/items", map[string]interface{}{
		"dish_id": "pozole", "name": "Pozole", "price": "95.50", "quantity": 1,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doRequest(t, router, http.MethodPost, "/tables/"+testTable+"/cart/items", map[string]interface{}{
		"dish_id": "pozole", "name": "Pozole", "price": "95.50", "quantity": 2,
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, router, http.MethodGet, "/tables/"+testTable+"/cart", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	items := body["items"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, float64(3), items[0].(map[string]interface{})["quantity"])
	assert.Equal(t, "286.50", body["total"])
}

func TestCart_AddValidation(t *testing.T) {
	router, _ := newCartRouter(t)

	rr := doRequest(t, router, http.MethodPost, "/tables/"+testTable+"/cart/items", map[string]interface{}{
		"dish_id": "pozole", "price": "abc", "quantity": 1,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, router, http.MethodPost, "/tables/"+testTable+"/cart/items", map[string]interface{}{
		"dish_id": "pozole", "price": "10", "quantity": 0,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, router, http.MethodPost, "/tables/"+testTable+"/cart/items", map[string]interface{}{
		"price": "10", "quantity": 1,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCart_ReplaceAndClear(t *testing.T) {
	router, svc := newCartRouter(t)

	rr := doRequest(t, router, http.MethodPut, "/tables/"+testTable+"/cart", map[string]interface{}{
		"items": []map[string]interface{}{
			{"dish_id": "taco", "price": "20", "quantity": 1},
			{"dish_id": "taco", "price": "20", "quantity": 1},
		},
		"instructions": " sin picante ",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	c, err := svc.Get(context.Background(), dinerCart())
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, int32(2), c.Items[0].Quantity)
	assert.Equal(t, "sin picante", c.Instructions)

	rr = doRequest(t, router, http.MethodDelete, "/tables/"+testTable+"/cart", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	c, err = svc.Get(context.Background(), dinerCart())
	require.NoError(t, err)
	assert.True(t, c.Empty())
	assert.Empty(t, c.Instructions)
}

func TestCart_UpdateItem(t *testing.T) {
	router, svc := newCartRouter(t)
	_, err := svc.Add(context.Background(), dinerCart(), order.Item{DishID: "taco", Quantity: 1})
	require.NoError(t, err)

	rr := doRequest(t, router, http.MethodPatch, "/tables/"+testTable+"/cart/items", map[string]interface{}{
		"dish_id": "taco", "quantity": 4, "new_notes": "con queso",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	c, _ := svc.Get(context.Background(), dinerCart())
	require.Len(t, c.Items, 1)
	assert.Equal(t, int32(4), c.Items[0].Quantity)
	assert.Equal(t, "con queso", c.Items[0].Notes)

	rr = doRequest(t, router, http.MethodPatch, "/tables/"+testTable+"/cart/items", map[string]interface{}{
		"dish_id": "taco", "quantity": 1,
	})
	assert.Equal(t, http.StatusNotFound, rr.Code, "old key no longer exists")

	rr = doRequest(t, router, http.MethodPatch, "/tables/"+testTable+"/cart/items", map[string]interface{}{
		"dish_id": "taco", "notes": "con queso",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCart_RemoveItem(t *testing.T) {
	router, svc := newCartRouter(t)
	_, err := svc.Add(context.Background(), dinerCart(), order.Item{DishID: "taco", Notes: "sin sal", Quantity: 1})
	require.NoError(t, err)

	rr := doRequest(t, router, http.MethodDelete, "/tables/"+testTable+"/cart/items", map[string]string{"dish_id": "taco"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doRequest(t, router, http.MethodDelete, "/tables/"+testTable+"/cart/items", map[string]string{"dish_id": "taco", "notes": "sin sal"})
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Empty(t, body["items"])
}

func TestCart_LockedAfterConfirmation(t *testing.T) {
	router, svc := newCartRouter(t)
	svc.Lock(dinerCart())

	rr := doRequest(t, router, http.MethodPost, "/tables/"+testTable+"/cart/items", map[string]interface{}{
		"dish_id": "taco", "price": "20", "quantity": 1,
	})
	assert.Equal(t, http.StatusConflict, rr.Code)
}
