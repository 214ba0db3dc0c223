package aggregator

import "net/url"

// Services names the backends the composite endpoints read from.
type Services struct {
	Users      string
	Products   string
	Categories string
}

func DefaultServices() Services {
	return Services{
		Users:      "user-service",
		Products:   "product-service",
		Categories: "category-service",
	}
}

// DashboardQueries reads the caller's profile alongside the product and
// category listings.
func DashboardQueries(s Services) []Query {
	return []Query{
		{Name: "user", Service: s.Users, Path: "/users/profile", ForwardAuth: true},
		{Name: "products", Service: s.Products, Path: "/products"},
		{Name: "categories", Service: s.Categories, Path: "/categories"},
	}
}

// SearchQueries always searches products; user search only runs for
// authenticated callers.
func SearchQueries(s Services, term string) []Query {
	q := url.Values{"q": []string{term}}
	return []Query{
		{Name: "products", Service: s.Products, Path: "/products/search", Query: q},
		{Name: "users", Service: s.Users, Path: "/users/search", Query: q, ForwardAuth: true},
	}
}
