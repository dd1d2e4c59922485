// Package webservices resolves service names to base URLs from the
// authenticated account's capabilities and builds the resource clients on
// first use.
package webservices

import (
	"context"
	"sync"

	"icloudgo/internal/account"
	"icloudgo/internal/auth"
	"icloudgo/internal/drive"
	"icloudgo/internal/findmy"
	"icloudgo/internal/photos"
	"icloudgo/internal/session"
)

// Service names of the account payload.
const (
	Account     = "account"
	FindMe      = "findme"
	Drive       = "drivews"
	Documents   = "docws"
	Database    = "ckdatabasews"
	UploadImage = "uploadimagews"
)

const statusActive = "active"

const reasonNotAvailable = "Webservice not available"

// Authorizer exposes the authentication state the directory depends on.
// *auth.Authenticator implements it.
type Authorizer interface {
	RequireAuthenticated() error
	Capabilities() *auth.Capabilities
}

// Directory maps service names to URLs and caches resource clients. The cache
// is tied to the capabilities it was built from and is dropped once they are
// replaced, including by a renewal inside the transport.
type Directory struct {
	authn      Authorizer
	transport  *session.Transport
	withFamily bool

	mu        sync.Mutex
	cachedFor *auth.Capabilities
	account   *account.Client
	drive     *drive.Client
	photos    *photos.Service
	findmy    *findmy.Client
}

// New returns a directory over transport. Family devices are included in
// device lookups when withFamily is set.
func New(authn Authorizer, transport *session.Transport, withFamily bool) *Directory {
	return &Directory{authn: authn, transport: transport, withFamily: withFamily}
}

// Resolve returns the base URL of the named service. Services that are
// missing, have no URL or are not active yield a ServiceNotActivatedError.
func (d *Directory) Resolve(name string) (string, error) {
	if err := d.authn.RequireAuthenticated(); err != nil {
		return "", err
	}
	caps := d.authn.Capabilities()
	if caps == nil {
		return "", auth.ErrNotAuthenticated
	}
	ws, ok := caps.Webservices[name]
	if !ok || ws.URL == "" || (ws.Status != "" && ws.Status != statusActive) {
		return "", &session.ServiceNotActivatedError{Reason: reasonNotAvailable, Service: name}
	}
	return ws.URL, nil
}

// Names lists the services reported active for the account.
func (d *Directory) Names() []string {
	caps := d.authn.Capabilities()
	if caps == nil {
		return nil
	}
	var names []string
	for name, ws := range caps.Webservices {
		if ws.URL != "" && (ws.Status == "" || ws.Status == statusActive) {
			names = append(names, name)
		}
	}
	return names
}

// Reset drops cached clients, e.g. after a new login changed the service map.
func (d *Directory) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked(nil)
}

func (d *Directory) resetLocked(caps *auth.Capabilities) {
	d.account, d.drive, d.photos, d.findmy = nil, nil, nil, nil
	d.cachedFor = caps
}

// syncLocked drops clients built from capabilities that have since been
// replaced.
func (d *Directory) syncLocked() {
	if caps := d.authn.Capabilities(); caps != d.cachedFor {
		d.resetLocked(caps)
	}
}

// Account returns the account information client.
func (d *Directory) Account() (*account.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.syncLocked()
	if d.account != nil {
		return d.account, nil
	}
	root, err := d.Resolve(Account)
	if err != nil {
		return nil, err
	}
	d.account = account.New(d.transport, root)
	return d.account, nil
}

// Drive returns the file storage client.
func (d *Directory) Drive() (*drive.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.syncLocked()
	if d.drive != nil {
		return d.drive, nil
	}
	serviceRoot, err := d.Resolve(Drive)
	if err != nil {
		return nil, err
	}
	documentRoot, err := d.Resolve(Documents)
	if err != nil {
		return nil, err
	}
	d.drive = drive.New(d.transport, drive.Options{
		ServiceRoot:  serviceRoot,
		DocumentRoot: documentRoot,
		ClientID:     d.transport.State().ClientID,
		Cookies:      d.transport.Jar(),
	})
	return d.drive, nil
}

// Photos returns the photo library service. Construction checks that the
// library finished indexing; a failed check is not cached.
func (d *Directory) Photos(ctx context.Context) (*photos.Service, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.syncLocked()
	if d.photos != nil {
		return d.photos, nil
	}
	root, err := d.Resolve(Database)
	if err != nil {
		return nil, err
	}
	svc, err := photos.New(ctx, d.transport, root)
	if err != nil {
		return nil, err
	}
	d.photos = svc
	return svc, nil
}

// FindMy returns the device locator client.
func (d *Directory) FindMy() (*findmy.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.syncLocked()
	if d.findmy != nil {
		return d.findmy, nil
	}
	root, err := d.Resolve(FindMe)
	if err != nil {
		return nil, err
	}
	d.findmy = findmy.New(d.transport, root, d.withFamily)
	return d.findmy, nil
}
