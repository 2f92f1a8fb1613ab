// Package ura pulls private residential transactions from the URA data
// service. Pulled records flow through the same staging pipeline as CSV
// extracts, tagged source=api.
package ura

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"condoscan/internal/contract"
	"condoscan/internal/ingest"
)

const defaultBaseURL = "https://eservice.ura.gov.sg"

// URA publishes areas in square metres; transactions are stored in sqft.
const sqmToSqft = 10.7639

// URA paginates PMI_Resi_Transaction into four fixed batches.
const transactionBatches = 4

type Client struct {
	accessKey  string
	baseURL    string
	httpClient *http.Client

	token          string
	tokenFetchedAt time.Time
}

func NewClient(accessKey string) *Client {
	return &Client{
		accessKey:  accessKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// ensureToken fetches the daily access token. URA tokens are valid for 24
// hours; refresh a little early.
func (c *Client) ensureToken(ctx context.Context) error {
	if c.token != "" && time.Since(c.tokenFetchedAt) < 23*time.Hour {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/uraDataService/insertNewToken.action", nil)
	if err != nil {
		return err
	}
	req.Header.Set("AccessKey", c.accessKey)
	req.Header.Set("User-Agent", "condoscan/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("token status: %s", resp.Status)
	}

	var result struct {
		Status  string `json:"Status"`
		Message string `json:"Message"`
		Result  string `json:"Result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode token: %w", err)
	}
	if !strings.EqualFold(result.Status, "Success") || result.Result == "" {
		return fmt.Errorf("token request failed: %s", result.Message)
	}

	c.token = result.Result
	c.tokenFetchedAt = time.Now()
	return nil
}

// uraProject is one project entry of the PMI_Resi_Transaction payload with
// its nested transactions.
type uraProject struct {
	Project      string           `json:"project"`
	Street       string           `json:"street"`
	MarketSeg    string           `json:"marketSegment"`
	Transactions []uraTransaction `json:"transaction"`
}

type uraTransaction struct {
	Area         string `json:"area"` // sqm
	Price        string `json:"price"`
	NettPrice    string `json:"nettPrice"`
	ContractDate string `json:"contractDate"` // MMYY
	TypeOfSale   string `json:"typeOfSale"`   // 1=new, 2=sub, 3=resale
	PropertyType string `json:"propertyType"`
	District     string `json:"district"`
	Tenure       string `json:"tenure"`
	FloorRange   string `json:"floorRange"`
	NoOfUnits    string `json:"noOfUnits"`
}

// FetchBatch pulls one of the four transaction batches and flattens it
// into canonical ingest records.
func (c *Client) FetchBatch(ctx context.Context, batch int) ([]ingest.Record, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/uraDataService/invokeUraDS?service=PMI_Resi_Transaction&batch=%d",
		c.baseURL, batch)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("AccessKey", c.accessKey)
	req.Header.Set("Token", c.token)
	req.Header.Set("User-Agent", "condoscan/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching batch %d: %w", batch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("batch %d status: %s", batch, resp.Status)
	}

	var result struct {
		Status  string       `json:"Status"`
		Message string       `json:"Message"`
		Result  []uraProject `json:"Result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode batch %d: %w", batch, err)
	}
	if !strings.EqualFold(result.Status, "Success") {
		return nil, fmt.Errorf("batch %d failed: %s", batch, result.Message)
	}

	var records []ingest.Record
	for _, proj := range result.Result {
		for _, tx := range proj.Transactions {
			records = append(records, toRecord(proj, tx))
		}
	}
	return records, nil
}

// FetchAll pulls every batch. A failed batch aborts: a partial national
// pull would skew the dedup and snapshot stages downstream.
func (c *Client) FetchAll(ctx context.Context) ([]ingest.Record, error) {
	var all []ingest.Record
	for batch := 1; batch <= transactionBatches; batch++ {
		recs, err := c.FetchBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		log.Printf("[ura] batch %d: %d transactions", batch, len(recs))
		all = append(all, recs...)
	}
	return all, nil
}

func toRecord(proj uraProject, tx uraTransaction) ingest.Record {
	rec := ingest.Record{
		contract.FieldProjectName:  strings.TrimSpace(proj.Project),
		contract.FieldStreet:       strings.TrimSpace(proj.Street),
		contract.FieldSaleDate:     tx.ContractDate,
		contract.FieldPropertyType: tx.PropertyType,
		contract.FieldPrice:        tx.Price,
		contract.FieldNettPrice:    tx.NettPrice,
		contract.FieldDistrict:     tx.District,
		contract.FieldSaleType:     saleTypeName(tx.TypeOfSale),
		contract.FieldTenure:       tx.Tenure,
		contract.FieldUnitCount:    tx.NoOfUnits,
	}
	if proj.MarketSeg != "" {
		rec[contract.FieldMarketSegment] = proj.MarketSeg
	}
	if fr := strings.TrimSpace(tx.FloorRange); fr != "" && fr != "-" {
		rec[contract.FieldFloorRange] = fr
	}
	if sqm, err := strconv.ParseFloat(strings.TrimSpace(tx.Area), 64); err == nil && sqm > 0 {
		rec[contract.FieldAreaSqft] = strconv.FormatFloat(sqm*sqmToSqft, 'f', 2, 64)
	}
	return rec
}

// saleTypeName maps URA's numeric type-of-sale codes onto the canonical
// labels the loader normalizes.
func saleTypeName(code string) string {
	switch strings.TrimSpace(code) {
	case "1":
		return "New Sale"
	case "2":
		return "Sub Sale"
	case "3":
		return "Resale"
	}
	return code
}
