// Package account reads account level information: the devices registered
// to the account, the family circle and storage usage.
package account

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"icloudgo/internal/session"
)

// Client talks to the account web service.
type Client struct {
	doer session.Doer
	root string
}

// New returns a client for the account service rooted at root.
func New(doer session.Doer, root string) *Client {
	return &Client{doer: doer, root: strings.TrimRight(root, "/")}
}

// Device is a device registered to the account.
type Device struct {
	Name             string   `json:"name"`
	Model            string   `json:"model"`
	ModelDisplayName string   `json:"modelDisplayName"`
	SerialNumber     string   `json:"serialNumber"`
	OSVersion        string   `json:"osVersion"`
	UDID             string   `json:"udid"`
	IMEI             string   `json:"imei"`
	PaymentMethods   []string `json:"paymentMethods"`
	SmallPhotoURL    string   `json:"modelSmallPhotoURL2x"`
	LargePhotoURL    string   `json:"modelLargePhotoURL2x"`
}

// PaymentMethod is a payment method referenced by devices.
type PaymentMethod struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	LastFourDigits string `json:"lastFourDigits"`
	BalanceStatus  string `json:"balanceStatus"`
}

// Devices lists the devices registered to the account.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var out struct {
		Devices []Device `json:"devices"`
	}
	if err := c.get(ctx, "/setup/web/device/getDevices", &out); err != nil {
		return nil, fmt.Errorf("failed to list account devices: %w", err)
	}
	return out.Devices, nil
}

// FamilyMember is a member of the family circle.
type FamilyMember struct {
	DSID                     string `json:"dsid"`
	AppleID                  string `json:"appleId"`
	FullName                 string `json:"fullName"`
	FirstName                string `json:"firstName"`
	LastName                 string `json:"lastName"`
	AgeClassification        string `json:"ageClassification"`
	OriginalInvitationEmail  string `json:"originalInvitationEmail"`
	AppleIDForPurchases      string `json:"appleIdForPurchases"`
	HasParentalPrivileges    bool   `json:"hasParentalPrivileges"`
	HasScreenTimeEnabled     bool   `json:"hasScreenTimeEnabled"`
	HasAskToBuyEnabled       bool   `json:"hasAskToBuyEnabled"`
	HasSharePurchasesEnabled bool   `json:"hasSharePurchasesEnabled"`
}

// Family lists the members of the account's family circle.
func (c *Client) Family(ctx context.Context) ([]FamilyMember, error) {
	var out struct {
		FamilyMembers []FamilyMember `json:"familyMembers"`
	}
	if err := c.get(ctx, "/setup/web/family/getFamilyDetails", &out); err != nil {
		return nil, fmt.Errorf("failed to read family details: %w", err)
	}
	return out.FamilyMembers, nil
}

// MediaUsage is the storage used by one kind of media.
type MediaUsage struct {
	Key          string `json:"mediaKey"`
	Label        string `json:"displayLabel"`
	Color        string `json:"displayColor"`
	UsageInBytes int64  `json:"usageInBytes"`
}

// StorageUsage summarizes the account's storage quota.
type StorageUsage struct {
	Media []MediaUsage `json:"storageUsageByMedia"`
	Info  struct {
		CompStorageInBytes     int64 `json:"compStorageInBytes"`
		UsedStorageInBytes     int64 `json:"usedStorageInBytes"`
		TotalStorageInBytes    int64 `json:"totalStorageInBytes"`
		CommerceStorageInBytes int64 `json:"commerceStorageInBytes"`
	} `json:"storageUsageInfo"`
	Quota struct {
		OverQuota        bool `json:"overQuota"`
		HaveMaxQuotaTier bool `json:"haveMaxQuotaTier"`
		AlmostFull       bool `json:"almost-full"`
		PaidQuota        bool `json:"paidQuota"`
	} `json:"quotaStatus"`
}

// Used returns the number of bytes in use.
func (s *StorageUsage) Used() int64 { return s.Info.UsedStorageInBytes }

// Total returns the quota in bytes.
func (s *StorageUsage) Total() int64 { return s.Info.TotalStorageInBytes }

// Available returns the number of free bytes.
func (s *StorageUsage) Available() int64 { return s.Total() - s.Used() }

// UsedPercent returns the used share of the quota rounded to two decimals.
func (s *StorageUsage) UsedPercent() float64 {
	if s.Total() == 0 {
		return 0
	}
	return float64(int64(float64(s.Used())*10000/float64(s.Total())+0.5)) / 100
}

// Storage reads the storage usage of the account.
func (c *Client) Storage(ctx context.Context) (*StorageUsage, error) {
	var out StorageUsage
	if err := c.get(ctx, "/setup/ws/1/storageUsageInfo", &out); err != nil {
		return nil, fmt.Errorf("failed to read storage usage: %w", err)
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	resp, err := c.doer.Do(ctx, &session.Request{Method: http.MethodGet, URL: c.root + path})
	if err != nil {
		return err
	}
	return resp.DecodeJSON(v)
}
