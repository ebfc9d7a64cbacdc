// Package util provides common utility functions used across the apiguard
// library.
//
// This package contains helper functions for string manipulation and
// formatting that don't fit into domain-specific packages. These utilities
// are used internally by multiple packages to avoid code duplication and
// maintain consistent behavior across the codebase.
//
// Key utilities:
//   - SafeTruncate: Safely truncates strings for logging sensitive data
//   - NormalizeURL: Normalizes URLs for issuer/audience comparison
package util
